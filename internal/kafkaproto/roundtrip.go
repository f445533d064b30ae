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

// EncodeRequestHeader writes a request header in the same shape
// ParseRequestHeader reads, for filters that rewrite a request body
// and must re-emit a full frame.
func EncodeRequestHeader(h *RequestHeader) *byteWriter {
	w := newByteWriter(64)
	w.Int16(h.APIKey)
	w.Int16(h.APIVersion)
	w.Int32(h.CorrelationID)
	// client id stays a legacy nullable string even in flexible header
	// versions; only the tagged-field block is new
	w.NullableString(h.ClientID)
	if isFlexibleRequest(h.APIKey, h.APIVersion) {
		w.WriteTaggedFields(0)
	}
	return w
}

// EncodeProduceRequest re-serializes a ProduceRequest, including its
// header, back into a full frame payload. Used by the encryption
// filter after replacing each partition's record set with its
// encrypted form.
func EncodeProduceRequest(h *RequestHeader, req *ProduceRequest) ([]byte, error) {
	if h.APIKey != APIKeyProduce {
		return nil, fmt.Errorf("EncodeProduceRequest: header api key %d is not Produce", h.APIKey)
	}
	flexible := isFlexibleRequest(h.APIKey, h.APIVersion)
	w := EncodeRequestHeader(h)

	if h.APIVersion >= 3 {
		if flexible {
			w.CompactNullableString(req.TransactionalID)
		} else {
			w.NullableString(req.TransactionalID)
		}
	}
	w.Int16(req.Acks)
	w.Int32(req.TimeoutMs)

	if flexible {
		w.CompactArrayLen(len(req.Topics))
	} else {
		w.Int32(int32(len(req.Topics)))
	}
	for _, topic := range req.Topics {
		if flexible {
			w.CompactString(topic.Name)
		} else {
			w.String(topic.Name)
		}
		if flexible {
			w.CompactArrayLen(len(topic.Partitions))
		} else {
			w.Int32(int32(len(topic.Partitions)))
		}
		for _, part := range topic.Partitions {
			w.Int32(part.Partition)
			if flexible {
				w.CompactBytes(part.Records)
				w.WriteTaggedFields(0)
			} else {
				w.BytesWithLength(part.Records)
			}
		}
		if flexible {
			w.WriteTaggedFields(0)
		}
	}
	if flexible {
		w.WriteTaggedFields(0)
	}
	return w.Bytes(), nil
}

// ParseFetchResponse decodes a raw Fetch response payload (correlation
// id onward, no outer length prefix) back into structural form so the
// decryptor cache can rewrite each partition's record set.
func ParseFetchResponse(b []byte, version int16) (*FetchResponse, error) {
	if version < 1 || version > 13 {
		return nil, fmt.Errorf("fetch response version %d not supported", version)
	}
	flexible := version >= 12
	reader := newByteReader(b)

	correlationID, err := reader.Int32()
	if err != nil {
		return nil, fmt.Errorf("read correlation id: %w", err)
	}
	if flexible {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, fmt.Errorf("skip header tags: %w", err)
		}
	}
	throttleMs, err := reader.Int32()
	if err != nil {
		return nil, fmt.Errorf("read throttle ms: %w", err)
	}
	var topLevelErr int16
	var sessionID int32
	if version >= 7 {
		if topLevelErr, err = reader.Int16(); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		if sessionID, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read session id: %w", err)
		}
	}

	var topicCount int32
	if flexible {
		topicCount, err = compactArrayLenNonNull(reader)
	} else {
		topicCount, err = reader.Int32()
	}
	if err != nil {
		return nil, fmt.Errorf("read topic count: %w", err)
	}

	topics := make([]FetchTopicResponse, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		var name string
		var topicID [16]byte
		if flexible {
			topicID, err = reader.UUID()
		} else {
			name, err = reader.String()
		}
		if err != nil {
			return nil, fmt.Errorf("read topic identifier: %w", err)
		}

		var partCount int32
		if flexible {
			partCount, err = compactArrayLenNonNull(reader)
		} else {
			partCount, err = reader.Int32()
		}
		if err != nil {
			return nil, fmt.Errorf("read partition count: %w", err)
		}

		partitions := make([]FetchPartitionResponse, 0, partCount)
		for j := int32(0); j < partCount; j++ {
			part := FetchPartitionResponse{}
			if part.Partition, err = reader.Int32(); err != nil {
				return nil, fmt.Errorf("read partition index: %w", err)
			}
			if part.ErrorCode, err = reader.Int16(); err != nil {
				return nil, fmt.Errorf("read partition error code: %w", err)
			}
			if part.HighWatermark, err = reader.Int64(); err != nil {
				return nil, fmt.Errorf("read high watermark: %w", err)
			}
			if version >= 4 {
				if part.LastStableOffset, err = reader.Int64(); err != nil {
					return nil, fmt.Errorf("read last stable offset: %w", err)
				}
			}
			if version >= 5 {
				if part.LogStartOffset, err = reader.Int64(); err != nil {
					return nil, fmt.Errorf("read log start offset: %w", err)
				}
			}
			if version >= 4 {
				var abortedCount int32
				if flexible {
					abortedCount, err = compactArrayLenNonNull(reader)
				} else {
					abortedCount, err = reader.Int32()
				}
				if err != nil {
					return nil, fmt.Errorf("read aborted transaction count: %w", err)
				}
				aborted := make([]FetchAbortedTransaction, 0, abortedCount)
				for k := int32(0); k < abortedCount; k++ {
					var a FetchAbortedTransaction
					if a.ProducerID, err = reader.Int64(); err != nil {
						return nil, fmt.Errorf("read aborted producer id: %w", err)
					}
					if a.FirstOffset, err = reader.Int64(); err != nil {
						return nil, fmt.Errorf("read aborted first offset: %w", err)
					}
					aborted = append(aborted, a)
				}
				part.AbortedTransactions = aborted
			}
			if version >= 11 {
				if part.PreferredReadReplica, err = reader.Int32(); err != nil {
					return nil, fmt.Errorf("read preferred read replica: %w", err)
				}
			}
			if flexible {
				part.RecordSet, err = reader.CompactBytes()
			} else {
				part.RecordSet, err = reader.Bytes()
			}
			if err != nil {
				return nil, fmt.Errorf("read record set: %w", err)
			}
			if flexible {
				if err := reader.SkipTaggedFields(); err != nil {
					return nil, fmt.Errorf("skip partition tags: %w", err)
				}
			}
			partitions = append(partitions, part)
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, fmt.Errorf("skip topic tags: %w", err)
			}
		}
		topics = append(topics, FetchTopicResponse{Name: name, TopicID: topicID, Partitions: partitions})
	}
	if flexible {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, fmt.Errorf("skip response tags: %w", err)
		}
	}

	return &FetchResponse{
		CorrelationID: correlationID,
		ThrottleMs:    throttleMs,
		ErrorCode:     topLevelErr,
		SessionID:     sessionID,
		Topics:        topics,
	}, nil
}

// ParseMetadataResponse decodes a raw Metadata response payload back
// into structural form so the address-rewrite filter can replace each
// broker's advertised host/port with the proxy's own.
func ParseMetadataResponse(b []byte, version int16) (*MetadataResponse, error) {
	if version < 0 || version > 12 {
		return nil, fmt.Errorf("metadata response version %d not supported", version)
	}
	flexible := version >= 9
	reader := newByteReader(b)

	correlationID, err := reader.Int32()
	if err != nil {
		return nil, fmt.Errorf("read correlation id: %w", err)
	}
	if flexible {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, fmt.Errorf("skip header tags: %w", err)
		}
	}
	var throttleMs int32
	if version >= 3 {
		if throttleMs, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read throttle ms: %w", err)
		}
	}

	var brokerCount int32
	if flexible {
		brokerCount, err = compactArrayLenNonNull(reader)
	} else {
		brokerCount, err = reader.Int32()
	}
	if err != nil {
		return nil, fmt.Errorf("read broker count: %w", err)
	}
	brokers := make([]MetadataBroker, 0, brokerCount)
	for i := int32(0); i < brokerCount; i++ {
		var broker MetadataBroker
		if broker.NodeID, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read broker node id: %w", err)
		}
		if flexible {
			broker.Host, err = reader.CompactString()
		} else {
			broker.Host, err = reader.String()
		}
		if err != nil {
			return nil, fmt.Errorf("read broker host: %w", err)
		}
		if broker.Port, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read broker port: %w", err)
		}
		if version >= 1 {
			if flexible {
				broker.Rack, err = reader.CompactNullableString()
			} else {
				broker.Rack, err = reader.NullableString()
			}
			if err != nil {
				return nil, fmt.Errorf("read broker rack: %w", err)
			}
		}
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, fmt.Errorf("skip broker tags: %w", err)
			}
		}
		brokers = append(brokers, broker)
	}

	var clusterID *string
	if version >= 2 {
		if flexible {
			clusterID, err = reader.CompactNullableString()
		} else {
			clusterID, err = reader.NullableString()
		}
		if err != nil {
			return nil, fmt.Errorf("read cluster id: %w", err)
		}
	}
	var controllerID int32
	if version >= 1 {
		if controllerID, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read controller id: %w", err)
		}
	}

	var topicCount int32
	if flexible {
		topicCount, err = compactArrayLenNonNull(reader)
	} else {
		topicCount, err = reader.Int32()
	}
	if err != nil {
		return nil, fmt.Errorf("read topic count: %w", err)
	}
	topics := make([]MetadataTopic, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		var topic MetadataTopic
		if topic.ErrorCode, err = reader.Int16(); err != nil {
			return nil, fmt.Errorf("read topic error code: %w", err)
		}
		if version >= 10 {
			var namePtr *string
			if flexible {
				namePtr, err = reader.CompactNullableString()
			} else {
				namePtr, err = reader.NullableString()
			}
			if err != nil {
				return nil, fmt.Errorf("read topic name: %w", err)
			}
			if namePtr != nil {
				topic.Name = *namePtr
			}
			if topic.TopicID, err = reader.UUID(); err != nil {
				return nil, fmt.Errorf("read topic id: %w", err)
			}
			if version >= 1 {
				if topic.IsInternal, err = reader.Bool(); err != nil {
					return nil, fmt.Errorf("read topic is internal: %w", err)
				}
			}
		} else {
			if flexible {
				topic.Name, err = reader.CompactString()
			} else {
				topic.Name, err = reader.String()
			}
			if err != nil {
				return nil, fmt.Errorf("read topic name: %w", err)
			}
			if version >= 1 {
				if topic.IsInternal, err = reader.Bool(); err != nil {
					return nil, fmt.Errorf("read topic is internal: %w", err)
				}
			}
		}

		var partCount int32
		if flexible {
			partCount, err = compactArrayLenNonNull(reader)
		} else {
			partCount, err = reader.Int32()
		}
		if err != nil {
			return nil, fmt.Errorf("read partition count: %w", err)
		}
		partitions := make([]MetadataPartition, 0, partCount)
		for j := int32(0); j < partCount; j++ {
			var part MetadataPartition
			if part.ErrorCode, err = reader.Int16(); err != nil {
				return nil, fmt.Errorf("read partition error code: %w", err)
			}
			if part.PartitionIndex, err = reader.Int32(); err != nil {
				return nil, fmt.Errorf("read partition index: %w", err)
			}
			if part.LeaderID, err = reader.Int32(); err != nil {
				return nil, fmt.Errorf("read partition leader: %w", err)
			}
			if version >= 7 {
				if part.LeaderEpoch, err = reader.Int32(); err != nil {
					return nil, fmt.Errorf("read leader epoch: %w", err)
				}
			}
			if part.ReplicaNodes, err = readInt32Array(reader, flexible); err != nil {
				return nil, fmt.Errorf("read replica nodes: %w", err)
			}
			if part.ISRNodes, err = readInt32Array(reader, flexible); err != nil {
				return nil, fmt.Errorf("read isr nodes: %w", err)
			}
			if version >= 5 {
				if part.OfflineReplicas, err = readInt32Array(reader, flexible); err != nil {
					return nil, fmt.Errorf("read offline replicas: %w", err)
				}
			}
			if flexible {
				if err := reader.SkipTaggedFields(); err != nil {
					return nil, fmt.Errorf("skip partition tags: %w", err)
				}
			}
			partitions = append(partitions, part)
		}
		topic.Partitions = partitions
		if flexible {
			if err := reader.SkipTaggedFields(); err != nil {
				return nil, fmt.Errorf("skip topic tags: %w", err)
			}
		}
		topics = append(topics, topic)
	}
	if flexible {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, fmt.Errorf("skip response tags: %w", err)
		}
	}

	return &MetadataResponse{
		CorrelationID: correlationID,
		ThrottleMs:    throttleMs,
		Brokers:       brokers,
		ClusterID:     clusterID,
		ControllerID:  controllerID,
		Topics:        topics,
	}, nil
}

func readInt32Array(reader *byteReader, flexible bool) ([]int32, error) {
	var count int32
	var err error
	if flexible {
		count, err = compactArrayLenNonNull(reader)
	} else {
		count, err = reader.Int32()
	}
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, count)
	for i := int32(0); i < count; i++ {
		v, err := reader.Int32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseFindCoordinatorResponse decodes a raw FindCoordinator response
// payload, the second surface the address-rewrite filter cares about.
func ParseFindCoordinatorResponse(b []byte, version int16) (*FindCoordinatorResponse, error) {
	if version < 0 || version > 4 {
		return nil, fmt.Errorf("find coordinator version %d not supported", version)
	}
	flexible := version >= 3
	reader := newByteReader(b)

	correlationID, err := reader.Int32()
	if err != nil {
		return nil, fmt.Errorf("read correlation id: %w", err)
	}
	if flexible {
		if err := reader.SkipTaggedFields(); err != nil {
			return nil, fmt.Errorf("skip header tags: %w", err)
		}
	}
	resp := &FindCoordinatorResponse{CorrelationID: correlationID}
	if version >= 1 {
		if resp.ThrottleMs, err = reader.Int32(); err != nil {
			return nil, fmt.Errorf("read throttle ms: %w", err)
		}
	}
	if resp.ErrorCode, err = reader.Int16(); err != nil {
		return nil, fmt.Errorf("read error code: %w", err)
	}
	if version >= 1 {
		if flexible {
			resp.ErrorMessage, err = reader.CompactNullableString()
		} else {
			resp.ErrorMessage, err = reader.NullableString()
		}
		if err != nil {
			return nil, fmt.Errorf("read error message: %w", err)
		}
	}
	if resp.NodeID, err = reader.Int32(); err != nil {
		return nil, fmt.Errorf("read node id: %w", err)
	}
	if flexible {
		resp.Host, err = reader.CompactString()
	} else {
		resp.Host, err = reader.String()
	}
	if err != nil {
		return nil, fmt.Errorf("read host: %w", err)
	}
	if resp.Port, err = reader.Int32(); err != nil {
		return nil, fmt.Errorf("read port: %w", err)
	}
	return resp, nil
}
