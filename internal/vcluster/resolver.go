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

// Package vcluster resolves a downstream connection's local endpoint
// and SNI hostname to the virtual cluster it belongs to.
// The binding table is read-mostly: every connection-accepting worker
// reads it on the hot path, while reconfiguration replaces it wholesale
// under an exclusive writer.
package vcluster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNoBinding is returned when no binding matches (endpoint, sni).
var ErrNoBinding = errors.New("vcluster: no binding for endpoint/sni")

// ErrNoTLSContext is returned when a TLS listener resolves to a
// virtual cluster with no downstream TLS material.
var ErrNoTLSContext = errors.New("vcluster: virtual cluster has no downstream TLS context")

// BrokerAddressRule rewrites an advertised broker address in Metadata
// responses for clients routed through this virtual cluster.
type BrokerAddressRule struct {
	NodeID         int32
	AdvertisedHost string
	AdvertisedPort int32
}

// VirtualCluster is a configured upstream identity. ID is
// assigned once at construction and used only to correlate log lines
// and metrics across a cluster's lifetime, never for routing.
type VirtualCluster struct {
	ID                 uuid.UUID
	Name               string
	UpstreamBootstrap  string
	LogNetwork         bool
	LogFrames          bool
	HasDownstreamTLS   bool
	HasUpstreamTLS     bool
	BrokerAddressRules []BrokerAddressRule
}

// Binding is the resolution (endpoint, sni) → (virtual cluster,
// upstream target, restrict-to-metadata-discovery?).
type Binding struct {
	Cluster                     VirtualCluster
	UpstreamTarget              string
	RestrictToMetadataDiscovery bool
}

type bindingKey struct {
	endpoint string
	sni      string // empty for plaintext listeners
}

// Table is the read-mostly binding table. The zero value is not usable;
// build one with NewTable.
type Table struct {
	mu       sync.RWMutex
	bindings map[bindingKey]Binding
}

func NewTable() *Table {
	return &Table{bindings: make(map[bindingKey]Binding)}
}

// Resolve maps a (local endpoint, SNI hostname) pair to a binding. An
// empty sni means a plaintext listener.
func (t *Table) Resolve(endpoint, sni string) (Binding, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.bindings[bindingKey{endpoint: endpoint, sni: sni}]; ok {
		return b, nil
	}
	if sni != "" {
		// fall back to the endpoint's default (no-SNI) binding, for
		// virtual clusters that don't require a specific hostname
		if b, ok := t.bindings[bindingKey{endpoint: endpoint}]; ok {
			return b, nil
		}
	}
	return Binding{}, fmt.Errorf("%w: endpoint=%q sni=%q", ErrNoBinding, endpoint, sni)
}

// Update replaces the entire binding table under an exclusive
// writer, used on reconfiguration.
func (t *Table) Update(bindings map[string]map[string]Binding) {
	next := make(map[bindingKey]Binding)
	for endpoint, bySNI := range bindings {
		for sni, binding := range bySNI {
			next[bindingKey{endpoint: endpoint, sni: sni}] = binding
		}
	}
	t.mu.Lock()
	t.bindings = next
	t.mu.Unlock()
}

// Put installs or replaces a single binding without touching the rest
// of the table; useful for incremental reconfiguration events.
func (t *Table) Put(endpoint, sni string, binding Binding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[bindingKey{endpoint: endpoint, sni: sni}] = binding
}
