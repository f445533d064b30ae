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

// Package apiversions short-circuits ApiVersions requests at the proxy:
// the client must never negotiate a version range the proxy's codec and
// filters cannot relay, so the proxy answers with the intersection of
// its own supported table and whatever the upstream advertises.
package apiversions

import (
	"context"
	"fmt"
	"sync"

	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// proxyVersions is the table of APIs, and their version ranges, that
// the proxy advertises. An API missing from this table is never
// advertised, whatever the upstream supports.
func proxyVersions() []kafkaproto.ApiVersion {
	return []kafkaproto.ApiVersion{
		{APIKey: kafkaproto.APIKeyProduce, MinVersion: 0, MaxVersion: 9},
		{APIKey: kafkaproto.APIKeyFetch, MinVersion: 1, MaxVersion: 13},
		{APIKey: kafkaproto.APIKeyListOffsets, MinVersion: 0, MaxVersion: 4},
		{APIKey: kafkaproto.APIKeyMetadata, MinVersion: 0, MaxVersion: 12},
		{APIKey: kafkaproto.APIKeyOffsetCommit, MinVersion: 0, MaxVersion: 8},
		{APIKey: kafkaproto.APIKeyOffsetFetch, MinVersion: 0, MaxVersion: 8},
		{APIKey: kafkaproto.APIKeyFindCoordinator, MinVersion: 0, MaxVersion: 4},
		{APIKey: kafkaproto.APIKeyJoinGroup, MinVersion: 0, MaxVersion: 7},
		{APIKey: kafkaproto.APIKeyHeartbeat, MinVersion: 0, MaxVersion: 4},
		{APIKey: kafkaproto.APIKeyLeaveGroup, MinVersion: 0, MaxVersion: 4},
		{APIKey: kafkaproto.APIKeySyncGroup, MinVersion: 0, MaxVersion: 5},
		{APIKey: kafkaproto.APIKeySaslHandshake, MinVersion: 0, MaxVersion: 1},
		{APIKey: kafkaproto.APIKeyApiVersion, MinVersion: 0, MaxVersion: 3},
		{APIKey: kafkaproto.APIKeyCreateTopics, MinVersion: 0, MaxVersion: 7},
		{APIKey: kafkaproto.APIKeyDeleteTopics, MinVersion: 0, MaxVersion: 6},
		{APIKey: kafkaproto.APIKeySaslAuthenticate, MinVersion: 0, MaxVersion: 2},
	}
}

// Filter answers every ApiVersions request itself; the request never
// reaches the upstream broker.
type Filter struct {
	mu       sync.RWMutex
	versions []kafkaproto.ApiVersion
}

var _ filter.SpecificRequestFilter = (*Filter)(nil)

// New builds the filter with the proxy's own version table; call
// SetUpstream once the upstream's advertised table is known to narrow
// the intersection.
func New() *Filter {
	return &Filter{versions: proxyVersions()}
}

// SetUpstream intersects the proxy table with the upstream broker's
// advertised ranges. APIs the upstream does not advertise are dropped;
// for shared APIs the narrower of the two ranges wins.
func (f *Filter) SetUpstream(upstream []kafkaproto.ApiVersion) {
	byKey := make(map[int16]kafkaproto.ApiVersion, len(upstream))
	for _, v := range upstream {
		byKey[v.APIKey] = v
	}
	intersected := make([]kafkaproto.ApiVersion, 0, len(upstream))
	for _, p := range proxyVersions() {
		u, ok := byKey[p.APIKey]
		if !ok {
			continue
		}
		min, max := p.MinVersion, p.MaxVersion
		if u.MinVersion > min {
			min = u.MinVersion
		}
		if u.MaxVersion < max {
			max = u.MaxVersion
		}
		if min > max {
			continue
		}
		intersected = append(intersected, kafkaproto.ApiVersion{APIKey: p.APIKey, MinVersion: min, MaxVersion: max})
	}
	f.mu.Lock()
	f.versions = intersected
	f.mu.Unlock()
}

func (f *Filter) RequestAPIKeys() []int16 { return []int16{kafkaproto.APIKeyApiVersion} }

// OnRequestForKey short-circuits with the intersected version table. A
// request version beyond what the proxy encodes gets the protocol's
// standard downgrade signal: a v0-framed response carrying
// UNSUPPORTED_VERSION, which clients answer by retrying with v0.
func (f *Filter) OnRequestForKey(ctx context.Context, frm *filter.Frame) filter.Completion {
	result := make(filter.Completion, 1)

	f.mu.RLock()
	versions := f.versions
	f.mu.RUnlock()

	respVersion := frm.APIVersion
	errorCode := kafkaproto.NONE
	if respVersion < 0 || respVersion > 3 {
		respVersion = 0
		errorCode = kafkaproto.UNSUPPORTED_VERSION
	}

	encoded, err := kafkaproto.EncodeApiVersionsResponse(&kafkaproto.ApiVersionsResponse{
		CorrelationID: frm.CorrelationID,
		ErrorCode:     errorCode,
		Versions:      versions,
	}, respVersion)
	if err != nil {
		result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("apiversions filter: encode response: %w", err)}
		return result
	}
	result <- filter.Result{Action: filter.ActionShortCircuit, Response: &filter.Frame{
		APIKey: frm.APIKey, APIVersion: respVersion, CorrelationID: frm.CorrelationID, Raw: encoded,
	}}
	return result
}
