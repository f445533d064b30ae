// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxyconn

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrAuthenticationFailed closes a connection whose SASL exchange did
// not produce a valid identity.
var ErrAuthenticationFailed = errors.New("proxyconn: sasl authentication failed")

// Authenticator validates one round of a SASL exchange. The frontend
// terminates SASL itself; the upstream connection is always made with
// the proxy's own identity.
type Authenticator interface {
	// Mechanisms lists the mechanism names the gate advertises in
	// SaslHandshake responses.
	Mechanisms() []string
	// Authenticate validates authBytes for mechanism, returning the
	// authenticated principal or an error.
	Authenticate(mechanism string, authBytes []byte) (string, error)
}

// PlainAuthenticator validates SASL PLAIN credentials against a static
// user/password table.
type PlainAuthenticator struct {
	Users map[string]string
}

func (a *PlainAuthenticator) Mechanisms() []string { return []string{"PLAIN"} }

// Authenticate parses the PLAIN wire form (authzid NUL user NUL pass)
// and compares the password in constant time.
func (a *PlainAuthenticator) Authenticate(mechanism string, authBytes []byte) (string, error) {
	if mechanism != "PLAIN" {
		return "", fmt.Errorf("%w: unsupported mechanism %q", ErrAuthenticationFailed, mechanism)
	}
	parts := bytes.SplitN(authBytes, []byte{0}, 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed PLAIN payload", ErrAuthenticationFailed)
	}
	user, pass := string(parts[1]), parts[2]
	want, ok := a.Users[user]
	if !ok {
		// still burn a comparison so an unknown user is not
		// distinguishable by timing
		subtle.ConstantTimeCompare(pass, []byte("-"))
		return "", fmt.Errorf("%w: unknown user", ErrAuthenticationFailed)
	}
	if subtle.ConstantTimeCompare(pass, []byte(want)) != 1 {
		return "", fmt.Errorf("%w: bad credentials for %q", ErrAuthenticationFailed, user)
	}
	return user, nil
}
