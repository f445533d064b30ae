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

package kafkaproto

import "fmt"

// RequestHeader matches Kafka RequestHeader v1 (tagged fields skipped, not kept).
type RequestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
}

// Request is implemented by every concrete, structurally-decoded request.
type Request interface {
	APIKey() int16
}

// ApiVersionsRequest carries no body fields the proxy cares about.
type ApiVersionsRequest struct{}

func (ApiVersionsRequest) APIKey() int16 { return APIKeyApiVersion }

// ProduceRequest is the structural form used by the encryption filter on
// the produce path.
type ProduceRequest struct {
	Acks            int16
	TimeoutMs       int32
	TransactionalID *string
	Topics          []ProduceTopic
}

type ProduceTopic struct {
	Name       string
	Partitions []ProducePartition
}

type ProducePartition struct {
	Partition int32
	// Records holds the concatenated record batches exactly as they
	// arrived on the wire; the codec does not decode individual records
	// unless a filter needs to (see internal/kafkarecord.RecordBatch).
	Records []byte
}

func (ProduceRequest) APIKey() int16 { return APIKeyProduce }

// FetchRequest is the structural form used on the fetch (decrypt) path.
type FetchRequest struct {
	ReplicaID      int32
	MaxWaitMs      int32
	MinBytes       int32
	MaxBytes       int32
	IsolationLevel int8
	SessionID      int32
	SessionEpoch   int32
	Topics         []FetchTopicRequest
}

type FetchTopicRequest struct {
	Name       string
	TopicID    [16]byte
	Partitions []FetchPartitionRequest
}

type FetchPartitionRequest struct {
	Partition   int32
	FetchOffset int64
	MaxBytes    int32
}

func (FetchRequest) APIKey() int16 { return APIKeyFetch }

// MetadataRequest asks for cluster/topic metadata; empty Topics means
// "all". The proxy rewrites the response's advertised broker
// addresses before relaying it.
type MetadataRequest struct {
	Topics                 []string
	TopicIDs               [][16]byte
	AllowAutoTopicCreation bool
}

func (MetadataRequest) APIKey() int16 { return APIKeyMetadata }

// FindCoordinatorRequest targets a group/txn coordinator lookup; the proxy
// always answers with itself as coordinator (it relays the session).
type FindCoordinatorRequest struct {
	KeyType int8
	Key     string
}

func (FindCoordinatorRequest) APIKey() int16 { return APIKeyFindCoordinator }

func isFlexibleRequest(apiKey, version int16) bool {
	switch apiKey {
	case APIKeyProduce:
		return version >= 9
	case APIKeyMetadata:
		return version >= 9
	case APIKeyFetch:
		return version >= 12
	case APIKeyFindCoordinator:
		return version >= 3
	case APIKeyApiVersion:
		return version >= 3
	case APIKeySaslAuthenticate:
		return version >= 2
	default:
		return false
	}
}

func compactArrayLenNonNull(r *byteReader) (int32, error) {
	n, err := r.CompactArrayLen()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("compact array is null")
	}
	return n, nil
}

// ParseRequestHeader decodes only the header portion from raw bytes,
// leaving the returned byteReader positioned at the start of the body.
func ParseRequestHeader(b []byte) (*RequestHeader, *byteReader, error) {
	reader := newByteReader(b)
	apiKey, err := reader.Int16()
	if err != nil {
		return nil, nil, fmt.Errorf("read api key: %w", err)
	}
	version, err := reader.Int16()
	if err != nil {
		return nil, nil, fmt.Errorf("read api version: %w", err)
	}
	correlationID, err := reader.Int32()
	if err != nil {
		return nil, nil, fmt.Errorf("read correlation id: %w", err)
	}
	clientID, err := reader.NullableString()
	if err != nil {
		return nil, nil, fmt.Errorf("read client id: %w", err)
	}
	if isFlexibleRequest(apiKey, version) {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, nil, fmt.Errorf("skip header tags: %w", err)
		}
	}
	return &RequestHeader{
		APIKey:        apiKey,
		APIVersion:    version,
		CorrelationID: correlationID,
		ClientID:      clientID,
	}, reader, nil
}

// ParseRequest decodes a full request (header + structured body) from
// bytes. It only supports the API keys the proxy or a filter ever needs
// to look inside; call sites must route everything else through the
// pass-through path (frame bytes forwarded verbatim, never reaching here).
func ParseRequest(b []byte) (*RequestHeader, Request, error) {
	header, reader, err := ParseRequestHeader(b)
	if err != nil {
		return nil, nil, err
	}
	flexible := isFlexibleRequest(header.APIKey, header.APIVersion)

	var req Request
	switch header.APIKey {
	case APIKeyApiVersion:
		req = &ApiVersionsRequest{}
	case APIKeyProduce:
		var transactionalID *string
		if header.APIVersion >= 3 {
			if flexible {
				transactionalID, err = reader.CompactNullableString()
			} else {
				transactionalID, err = reader.NullableString()
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read produce transactional id: %w", err)
			}
		}
		acks, err := reader.Int16()
		if err != nil {
			return nil, nil, fmt.Errorf("read produce acks: %w", err)
		}
		timeout, err := reader.Int32()
		if err != nil {
			return nil, nil, fmt.Errorf("read produce timeout: %w", err)
		}
		var topicCount int32
		if flexible {
			topicCount, err = compactArrayLenNonNull(reader)
		} else {
			topicCount, err = reader.Int32()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read produce topic count: %w", err)
		}
		topics := make([]ProduceTopic, 0, topicCount)
		for i := int32(0); i < topicCount; i++ {
			var name string
			if flexible {
				name, err = reader.CompactString()
			} else {
				name, err = reader.String()
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read produce topic name: %w", err)
			}
			var partitionCount int32
			if flexible {
				partitionCount, err = compactArrayLenNonNull(reader)
			} else {
				partitionCount, err = reader.Int32()
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read produce partition count: %w", err)
			}
			partitions := make([]ProducePartition, 0, partitionCount)
			for j := int32(0); j < partitionCount; j++ {
				index, err := reader.Int32()
				if err != nil {
					return nil, nil, fmt.Errorf("read produce partition index: %w", err)
				}
				var records []byte
				if flexible {
					records, err = reader.CompactBytes()
				} else {
					records, err = reader.Bytes()
				}
				if err != nil {
					return nil, nil, fmt.Errorf("read produce records: %w", err)
				}
				partitions = append(partitions, ProducePartition{Partition: index, Records: records})
				if flexible {
					if err := reader.SkipTaggedFields(); err != nil {
						return nil, nil, fmt.Errorf("skip partition tags: %w", err)
					}
				}
			}
			if flexible {
				if err := reader.SkipTaggedFields(); err != nil {
					return nil, nil, fmt.Errorf("skip topic tags: %w", err)
				}
			}
			topics = append(topics, ProduceTopic{Name: name, Partitions: partitions})
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, nil, fmt.Errorf("skip produce tags: %w", err)
			}
		}
		req = &ProduceRequest{
			Acks:            acks,
			TimeoutMs:       timeout,
			TransactionalID: transactionalID,
			Topics:          topics,
		}
	case APIKeyMetadata:
		var topics []string
		var topicIDs [][16]byte
		var count int32
		if flexible {
			count, err = reader.CompactArrayLen()
		} else {
			count, err = reader.Int32()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read metadata topic count: %w", err)
		}
		if count >= 0 {
			topics = make([]string, 0, count)
			topicIDs = make([][16]byte, 0, count)
			for i := int32(0); i < count; i++ {
				if header.APIVersion >= 10 {
					id, err := reader.UUID()
					if err != nil {
						return nil, nil, fmt.Errorf("read metadata topic[%d] id: %w", i, err)
					}
					var namePtr *string
					if flexible {
						namePtr, err = reader.CompactNullableString()
					} else {
						namePtr, err = reader.NullableString()
					}
					if err != nil {
						return nil, nil, fmt.Errorf("read metadata topic[%d] name: %w", i, err)
					}
					if namePtr != nil {
						topics = append(topics, *namePtr)
					}
					topicIDs = append(topicIDs, id)
					if flexible {
						if err := reader.SkipTaggedFields(); err != nil {
							return nil, nil, fmt.Errorf("skip metadata topic[%d] tags: %w", i, err)
						}
					}
				} else {
					var name string
					if flexible {
						name, err = reader.CompactString()
					} else {
						name, err = reader.String()
					}
					if err != nil {
						return nil, nil, fmt.Errorf("read metadata topic[%d]: %w", i, err)
					}
					topics = append(topics, name)
					if flexible {
						if err := reader.SkipTaggedFields(); err != nil {
							return nil, nil, fmt.Errorf("skip metadata topic[%d] tags: %w", i, err)
						}
					}
				}
			}
		}
		allowAutoTopicCreation := true
		if header.APIVersion >= 4 {
			if allowAutoTopicCreation, err = reader.Bool(); err != nil {
				return nil, nil, fmt.Errorf("read metadata allow auto topic creation: %w", err)
			}
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, nil, fmt.Errorf("skip metadata tags: %w", err)
			}
		}
		req = &MetadataRequest{
			Topics:                 topics,
			TopicIDs:               topicIDs,
			AllowAutoTopicCreation: allowAutoTopicCreation,
		}
	case APIKeyFetch:
		version := header.APIVersion
		replicaID, err := reader.Int32()
		if err != nil {
			return nil, nil, fmt.Errorf("read fetch replica id: %w", err)
		}
		maxWaitMs, err := reader.Int32()
		if err != nil {
			return nil, nil, err
		}
		minBytes, err := reader.Int32()
		if err != nil {
			return nil, nil, err
		}
		var maxBytes int32
		if version >= 3 {
			maxBytes, err = reader.Int32()
			if err != nil {
				return nil, nil, err
			}
		}
		isolationLevel := int8(0)
		if version >= 4 {
			if isolationLevel, err = reader.Int8(); err != nil {
				return nil, nil, err
			}
		}
		sessionID := int32(0)
		sessionEpoch := int32(0)
		if version >= 7 {
			if sessionID, err = reader.Int32(); err != nil {
				return nil, nil, err
			}
			if sessionEpoch, err = reader.Int32(); err != nil {
				return nil, nil, err
			}
		}
		var topicCount int32
		if flexible {
			topicCount, err = compactArrayLenNonNull(reader)
		} else {
			topicCount, err = reader.Int32()
		}
		if err != nil {
			return nil, nil, err
		}
		topics := make([]FetchTopicRequest, 0, topicCount)
		for i := int32(0); i < topicCount; i++ {
			var (
				name    string
				topicID [16]byte
			)
			if version >= 12 {
				topicID, err = reader.UUID()
				if err != nil {
					return nil, nil, err
				}
			} else {
				if flexible {
					name, err = reader.CompactString()
				} else {
					name, err = reader.String()
				}
				if err != nil {
					return nil, nil, err
				}
			}
			var partCount int32
			if flexible {
				partCount, err = compactArrayLenNonNull(reader)
			} else {
				partCount, err = reader.Int32()
			}
			if err != nil {
				return nil, nil, err
			}
			partitions := make([]FetchPartitionRequest, 0, partCount)
			for j := int32(0); j < partCount; j++ {
				partitionID, err := reader.Int32()
				if err != nil {
					return nil, nil, err
				}
				if version >= 9 {
					if _, err := reader.Int32(); err != nil { // leader epoch
						return nil, nil, err
					}
				}
				fetchOffset, err := reader.Int64()
				if err != nil {
					return nil, nil, err
				}
				if version >= 12 {
					if _, err := reader.Int32(); err != nil { // last fetched epoch
						return nil, nil, err
					}
				}
				if version >= 5 {
					if _, err := reader.Int64(); err != nil { // log start offset
						return nil, nil, err
					}
				}
				maxBytes, err := reader.Int32()
				if err != nil {
					return nil, nil, err
				}
				partitions = append(partitions, FetchPartitionRequest{
					Partition:   partitionID,
					FetchOffset: fetchOffset,
					MaxBytes:    maxBytes,
				})
				if flexible {
					if err := reader.SkipTaggedFields(); err != nil {
						return nil, nil, fmt.Errorf("skip fetch partition tags: %w", err)
					}
				}
			}
			topics = append(topics, FetchTopicRequest{Name: name, TopicID: topicID, Partitions: partitions})
			if flexible {
				if err := reader.SkipTaggedFields(); err != nil {
					return nil, nil, fmt.Errorf("skip fetch topic tags: %w", err)
				}
			}
		}
		if version >= 7 {
			var forgottenCount int32
			if flexible {
				forgottenCount, err = reader.CompactArrayLen()
			} else {
				forgottenCount, err = reader.Int32()
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read forgotten topics count: %w", err)
			}
			for i := int32(0); i < forgottenCount; i++ {
				if version >= 12 {
					if _, err := reader.UUID(); err != nil {
						return nil, nil, fmt.Errorf("read forgotten topic id: %w", err)
					}
				} else {
					if _, err := reader.String(); err != nil {
						return nil, nil, fmt.Errorf("read forgotten topic name: %w", err)
					}
				}
				var partCount int32
				if flexible {
					partCount, err = reader.CompactArrayLen()
				} else {
					partCount, err = reader.Int32()
				}
				if err != nil {
					return nil, nil, fmt.Errorf("read forgotten partitions: %w", err)
				}
				for j := int32(0); j < partCount; j++ {
					if _, err := reader.Int32(); err != nil {
						return nil, nil, fmt.Errorf("read forgotten partition: %w", err)
					}
				}
				if flexible {
					if err := reader.SkipTaggedFields(); err != nil {
						return nil, nil, fmt.Errorf("skip forgotten topic tags: %w", err)
					}
				}
			}
		}
		if version >= 11 {
			if flexible {
				if _, err := reader.CompactNullableString(); err != nil {
					return nil, nil, fmt.Errorf("read rack id: %w", err)
				}
			} else {
				if _, err := reader.NullableString(); err != nil {
					return nil, nil, fmt.Errorf("read rack id: %w", err)
				}
			}
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, nil, fmt.Errorf("skip fetch request tags: %w", err)
			}
		}
		req = &FetchRequest{
			ReplicaID:      replicaID,
			MaxWaitMs:      maxWaitMs,
			MinBytes:       minBytes,
			MaxBytes:       maxBytes,
			IsolationLevel: isolationLevel,
			SessionID:      sessionID,
			SessionEpoch:   sessionEpoch,
			Topics:         topics,
		}
	case APIKeyFindCoordinator:
		var key string
		if flexible {
			key, err = reader.CompactString()
		} else {
			key, err = reader.String()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read coordinator key: %w", err)
		}
		var keyType int8
		if header.APIVersion >= 1 {
			if keyType, err = reader.Int8(); err != nil {
				return nil, nil, fmt.Errorf("read coordinator key type: %w", err)
			}
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, nil, fmt.Errorf("skip coordinator tags: %w", err)
			}
		}
		req = &FindCoordinatorRequest{KeyType: keyType, Key: key}
	default:
		return nil, nil, fmt.Errorf("unsupported api key %d for structural decode", header.APIKey)
	}

	return header, req, nil
}
