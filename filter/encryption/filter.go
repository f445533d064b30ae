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

// Package encryption is the concrete, wire-facing envelope-encryption
// filter: it intercepts Produce requests to encrypt record batches and
// Fetch responses to decrypt them, using internal/encryption's key
// manager and decryptor cache as its engine.
package encryption

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kroxylicious/kroxylicious-go/internal/bufferpool"
	"github.com/kroxylicious/kroxylicious-go/internal/encryption"
	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkarecord"
)

// SchemeResolver decides whether topic should be encrypted, and if so
// under which scheme. Returning ok=false means the topic passes through
// unencrypted.
type SchemeResolver interface {
	SchemeFor(ctx context.Context, topic string) (scheme encryption.EncryptionScheme, ok bool, err error)
}

// Filter is the Produce/Fetch-specific encryption filter. It
// implements filter.SpecificRequestFilter and
// filter.SpecificResponseFilter, and nothing else, per the chain
// driver's capability-mix rule.
type Filter struct {
	km      *encryption.KeyManager
	dc      *encryption.DecryptorCache
	pool    *bufferpool.Pool
	schemes SchemeResolver
	logger  *slog.Logger
}

var (
	_ filter.SpecificRequestFilter  = (*Filter)(nil)
	_ filter.SpecificResponseFilter = (*Filter)(nil)
)

// New builds the encryption filter around an already-constructed key
// manager, decryptor cache, and buffer pool.
func New(km *encryption.KeyManager, dc *encryption.DecryptorCache, pool *bufferpool.Pool, schemes SchemeResolver, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{km: km, dc: dc, pool: pool, schemes: schemes, logger: logger}
}

func (f *Filter) RequestAPIKeys() []int16 { return []int16{kafkaproto.APIKeyProduce} }

func (f *Filter) ResponseAPIKeys() []int16 { return []int16{kafkaproto.APIKeyFetch} }

// OnRequestForKey encrypts every non-tombstone record in every
// partition's record batches whose topic resolves to an encryption
// scheme, then re-serializes the whole Produce request.
func (f *Filter) OnRequestForKey(ctx context.Context, frm *filter.Frame) filter.Completion {
	result := make(filter.Completion, 1)
	header, req, err := kafkaproto.ParseRequest(frm.Raw)
	if err != nil {
		result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: parse produce request: %w", err)}
		return result
	}
	produceReq, ok := req.(*kafkaproto.ProduceRequest)
	if !ok {
		result <- filter.Result{Action: filter.ActionForward, Frame: frm}
		return result
	}

	for ti, topic := range produceReq.Topics {
		scheme, encrypt, err := f.schemes.SchemeFor(ctx, topic.Name)
		if err != nil {
			result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: resolve scheme for %s: %w", topic.Name, err)}
			return result
		}
		if !encrypt {
			continue
		}
		for pi, part := range topic.Partitions {
			rewritten, err := f.encryptRecordSet(ctx, topic.Name, part.Partition, part.Records, scheme)
			if err != nil {
				result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: encrypt %s-%d: %w", topic.Name, part.Partition, err)}
				return result
			}
			produceReq.Topics[ti].Partitions[pi].Records = rewritten
		}
	}

	encoded, err := kafkaproto.EncodeProduceRequest(header, produceReq)
	if err != nil {
		result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: re-encode produce request: %w", err)}
		return result
	}
	result <- filter.Result{Action: filter.ActionForward, Frame: &filter.Frame{
		APIKey: frm.APIKey, APIVersion: frm.APIVersion, CorrelationID: frm.CorrelationID, Raw: encoded,
	}}
	return result
}

func (f *Filter) encryptRecordSet(ctx context.Context, topic string, partition int32, records []byte, scheme encryption.EncryptionScheme) ([]byte, error) {
	if len(records) == 0 {
		return records, nil
	}
	batches, err := kafkarecord.ParseRecordBatches(records)
	if err != nil {
		return nil, fmt.Errorf("parse record batches: %w", err)
	}
	var out []byte
	for _, batch := range batches {
		encrypted, err := f.km.Encrypt(ctx, topic, partition, scheme, batch, f.pool)
		if err != nil {
			return nil, err
		}
		encoded, err := encrypted.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode encrypted batch: %w", err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// OnResponseForKey decrypts every partition's record batches in a
// Fetch response, dropping only the individual records that fail
// AEAD integrity, then re-serializes the response.
func (f *Filter) OnResponseForKey(ctx context.Context, frm *filter.Frame) filter.Completion {
	result := make(filter.Completion, 1)
	resp, err := kafkaproto.ParseFetchResponse(frm.Raw, frm.APIVersion)
	if err != nil {
		result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: parse fetch response: %w", err)}
		return result
	}

	for ti, topic := range resp.Topics {
		for pi, part := range topic.Partitions {
			rewritten, err := f.decryptRecordSet(ctx, topic.Name, part.Partition, part.RecordSet)
			if err != nil {
				result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: decrypt %s-%d: %w", topic.Name, part.Partition, err)}
				return result
			}
			resp.Topics[ti].Partitions[pi].RecordSet = rewritten
		}
	}

	encoded, err := kafkaproto.EncodeFetchResponse(resp, frm.APIVersion)
	if err != nil {
		result <- filter.Result{Action: filter.ActionFail, Err: fmt.Errorf("encryption filter: re-encode fetch response: %w", err)}
		return result
	}
	result <- filter.Result{Action: filter.ActionForward, Frame: &filter.Frame{
		APIKey: frm.APIKey, APIVersion: frm.APIVersion, CorrelationID: frm.CorrelationID, Raw: encoded,
	}}
	return result
}

func (f *Filter) decryptRecordSet(ctx context.Context, topic string, partition int32, records []byte) ([]byte, error) {
	if len(records) == 0 {
		return records, nil
	}
	batches, err := kafkarecord.ParseRecordBatches(records)
	if err != nil {
		return nil, fmt.Errorf("parse record batches: %w", err)
	}
	var out []byte
	for _, batch := range batches {
		decrypted, err := f.dc.Decrypt(ctx, topic, partition, batch)
		if err != nil {
			return nil, err
		}
		encoded, err := decrypted.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode decrypted batch: %w", err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}
