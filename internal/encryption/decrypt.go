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

package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"
)

// decryptor holds the stateful AEAD for one EDEK. Concurrent fetch
// paths sharing an EDEK must serialize through mu for the duration of
// one record's GCM operation.
type decryptor struct {
	mu  sync.Mutex
	gcm cipher.AEAD
}

func (d *decryptor) open(iv, ciphertextAndTag []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	plain, err := d.gcm.Open(nil, iv, ciphertextAndTag, nil)
	if err != nil {
		return nil, ErrIntegrityFailure
	}
	return plain, nil
}

type pendingDecryptor struct {
	done chan struct{}
	d    *decryptor
	err  error
}

// DecryptorCache is the edek-to-decryptor loading map for the fetch
// path. It coalesces concurrent misses for the same EDEK onto a
// single KMS DecryptEdek call.
type DecryptorCache struct {
	kms KeyManagementService

	mu      sync.Mutex
	entries map[string]*pendingDecryptor
}

func NewDecryptorCache(kms KeyManagementService) *DecryptorCache {
	return &DecryptorCache{kms: kms, entries: make(map[string]*pendingDecryptor)}
}

func (c *DecryptorCache) getOrCreate(ctx context.Context, edek EDEK) (*decryptor, error) {
	key := string(edek)

	c.mu.Lock()
	if p, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-p.done
		return p.d, p.err
	}
	p := &pendingDecryptor{done: make(chan struct{})}
	c.entries[key] = p
	c.mu.Unlock()

	dek, err := c.kms.DecryptEdek(ctx, edek)
	if err != nil {
		p.err = fmt.Errorf("decrypt edek: %w", err)
		close(p.done)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, p.err
	}
	block, err := aes.NewCipher(dek.Key[:])
	if err != nil {
		p.err = fmt.Errorf("build aes cipher: %w", err)
		close(p.done)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, p.err
	}
	gcmAEAD, err := cipher.NewGCM(block)
	if err != nil {
		p.err = fmt.Errorf("build gcm: %w", err)
		close(p.done)
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, p.err
	}
	p.d = &decryptor{gcm: gcmAEAD}
	close(p.done)
	return p.d, nil
}
