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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kroxylicious/kroxylicious-go/internal/metrics"
)

const leaseRetryBudget = 3

// keyContext is the per-KEK lease state: a DEK, its serialized EDEK,
// expiry, a remaining-encryption budget and a destroyed flag, all
// serialized by one mutex.
type keyContext struct {
	mu sync.Mutex

	kekID     string
	edek      EDEK
	expiry    time.Time
	remaining int64
	destroyed bool

	dek DEK
	gcm cipher.AEAD

	ivSalt [4]byte
	ivSeq  uint64
}

// nextIVLocked draws a unique 96-bit IV for this context: a per-context
// random salt plus a monotonic counter, which guarantees uniqueness for
// every encryption up to maxEncryptionsPerDek. Caller must hold mu.
func (k *keyContext) nextIVLocked() [12]byte {
	var iv [12]byte
	copy(iv[0:4], k.ivSalt[:])
	binary.BigEndian.PutUint64(iv[4:12], k.ivSeq)
	k.ivSeq++
	return iv
}

func (k *keyContext) zeroizeLocked() {
	for i := range k.dek.Key {
		k.dek.Key[i] = 0
	}
	k.gcm = nil
}

// pendingContext is either in-flight (waiters block on done) or
// resolved (ctx/err are readable once done is closed), so a cache
// entry is always "a resolved value or a pending completion".
type pendingContext struct {
	done chan struct{}
	ctx  *keyContext
	err  error
}

// KeyManager is the DEK cache and key manager. It
// coalesces concurrent misses for the same KEK onto a single
// GenerateDekPair call and enforces the lease protocol on every
// encrypt.
type KeyManager struct {
	kms   KeyManagementService
	serde EdekSerde
	log   *slog.Logger

	maxEncryptionsPerDek int64
	dekTTL               time.Duration

	mu       sync.Mutex
	contexts map[string]*pendingContext

	generateCalls atomic.Int64 // observability, and lets tests assert coalescing
}

// KeyManagerConfig carries the key-rotation tunables.
type KeyManagerConfig struct {
	MaxEncryptionsPerDek int64
	DekTTL               time.Duration
}

// DefaultKeyManagerConfig caps a DEK at one million encryptions or
// five seconds of use, whichever comes first.
func DefaultKeyManagerConfig() KeyManagerConfig {
	return KeyManagerConfig{
		MaxEncryptionsPerDek: 1_000_000,
		DekTTL:               5 * time.Second,
	}
}

func NewKeyManager(kms KeyManagementService, serde EdekSerde, cfg KeyManagerConfig, log *slog.Logger) *KeyManager {
	if serde == nil {
		serde = RawEdekSerde{}
	}
	return &KeyManager{
		kms:                  kms,
		serde:                serde,
		log:                  log,
		maxEncryptionsPerDek: cfg.MaxEncryptionsPerDek,
		dekTTL:               cfg.DekTTL,
		contexts:             make(map[string]*pendingContext),
	}
}

// GenerateDekPairCalls reports how many times the underlying KMS's
// GenerateDekPair was actually invoked, for tests that assert
// coalescing behaviour.
func (m *KeyManager) GenerateDekPairCalls() int64 {
	return m.generateCalls.Load()
}

// lease obtains a key context good for encrypting n records, retrying
// up to leaseRetryBudget times across DEK rotations.
func (m *KeyManager) lease(ctx context.Context, kekID string, n int) (*keyContext, error) {
	for attempt := 0; attempt < leaseRetryBudget; attempt++ {
		kc, err := m.getOrCreate(ctx, kekID)
		if err != nil {
			return nil, fmt.Errorf("lease kek %q: %w", kekID, err)
		}

		kc.mu.Lock()
		switch {
		case kc.destroyed:
			kc.mu.Unlock()
			metrics.DekLeaseRetriesTotal.Inc()
			continue
		case time.Now().After(kc.expiry):
			kc.destroyed = true
			kc.zeroizeLocked()
			kc.mu.Unlock()
			m.invalidate(kekID, kc)
			metrics.DekLeaseRetriesTotal.Inc()
			continue
		case kc.remaining < int64(n):
			kc.destroyed = true
			kc.zeroizeLocked()
			kc.mu.Unlock()
			m.invalidate(kekID, kc)
			metrics.DekLeaseRetriesTotal.Inc()
			continue
		default:
			kc.remaining -= int64(n)
			kc.mu.Unlock()
			return kc, nil
		}
	}
	metrics.RequestNotSatisfiableTotal.Inc()
	return nil, ErrRequestNotSatisfiable
}

// getOrCreate returns the current key context for kekID, coalescing
// concurrent misses onto one GenerateDekPair call.
func (m *KeyManager) getOrCreate(ctx context.Context, kekID string) (*keyContext, error) {
	m.mu.Lock()
	if p, ok := m.contexts[kekID]; ok {
		m.mu.Unlock()
		<-p.done
		return p.ctx, p.err
	}
	p := &pendingContext{done: make(chan struct{})}
	m.contexts[kekID] = p
	m.mu.Unlock()

	m.generateCalls.Add(1)
	metrics.DekGenerationsTotal.WithLabelValues(kekID).Inc()
	dek, edek, err := m.kms.GenerateDekPair(ctx, kekID)
	if err != nil {
		p.err = fmt.Errorf("generate dek pair: %w", err)
		close(p.done)
		m.invalidate(kekID, nil)
		return nil, p.err
	}

	block, err := aes.NewCipher(dek.Key[:])
	if err != nil {
		p.err = fmt.Errorf("build aes cipher: %w", err)
		close(p.done)
		m.invalidate(kekID, nil)
		return nil, p.err
	}
	gcmAEAD, err := cipher.NewGCM(block)
	if err != nil {
		p.err = fmt.Errorf("build gcm: %w", err)
		close(p.done)
		m.invalidate(kekID, nil)
		return nil, p.err
	}

	var salt [4]byte
	if _, err := rand.Read(salt[:]); err != nil {
		p.err = fmt.Errorf("read iv salt: %w", err)
		close(p.done)
		m.invalidate(kekID, nil)
		return nil, p.err
	}

	kc := &keyContext{
		kekID:     kekID,
		edek:      edek,
		dek:       dek,
		gcm:       gcmAEAD,
		expiry:    time.Now().Add(m.dekTTL),
		remaining: m.maxEncryptionsPerDek,
		ivSalt:    salt,
	}
	p.ctx = kc
	close(p.done)
	if m.log != nil {
		m.log.Info("generated dek", "kekId", kekID)
	}
	return kc, nil
}

// invalidate removes the current entry for kekID if it still points at
// the caller's expectation (either the destroyed context, or nil for a
// failed generation), so the next lease attempt issues a fresh
// GenerateDekPair. Waiters already attached to the removed entry still
// see the value they were promised.
func (m *KeyManager) invalidate(kekID string, expect *keyContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.contexts[kekID]
	if !ok {
		return
	}
	if expect != nil && p.ctx != expect {
		return
	}
	delete(m.contexts, kekID)
}
