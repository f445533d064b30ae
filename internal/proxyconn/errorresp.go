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
	"errors"

	"github.com/kroxylicious/kroxylicious-go/internal/encryption"
	"github.com/kroxylicious/kroxylicious-go/internal/kafkaproto"
)

// mapErrorCode turns an internal error kind into the Kafka error code
// carried back to the client: DEK exhaustion maps
// to a storage error, an unreachable upstream to a timeout, anything
// else to the generic unknown-server code.
func mapErrorCode(err error) int16 {
	switch {
	case errors.Is(err, encryption.ErrRequestNotSatisfiable):
		return kafkaproto.KAFKA_STORAGE_ERROR
	case errors.Is(err, ErrBackendClosed):
		return kafkaproto.REQUEST_TIMED_OUT
	default:
		return kafkaproto.UNKNOWN_SERVER_ERROR
	}
}

// buildErrorResponse synthesizes an API-appropriate error-coded
// response for a request the proxy cannot relay, so a single failing
// request costs only its own correlation id rather than the
// connection.
// ok=false means this API has no synthesizable error shape (or the
// request expects no response at all) and the caller must fall back to
// closing the connection.
func buildErrorResponse(payload []byte, errorCode int16) ([]byte, bool) {
	header, req, err := kafkaproto.ParseRequest(payload)
	if err != nil {
		return nil, false
	}
	switch header.APIKey {
	case kafkaproto.APIKeyProduce:
		produceReq := req.(*kafkaproto.ProduceRequest)
		if produceReq.Acks == 0 {
			// acks=0 producers expect no response frame at all
			return nil, false
		}
		topics := make([]kafkaproto.ProduceTopicResponse, 0, len(produceReq.Topics))
		for _, topic := range produceReq.Topics {
			partitions := make([]kafkaproto.ProducePartitionResponse, 0, len(topic.Partitions))
			for _, part := range topic.Partitions {
				partitions = append(partitions, kafkaproto.ProducePartitionResponse{
					Partition:       part.Partition,
					ErrorCode:       errorCode,
					BaseOffset:      -1,
					LogAppendTimeMs: -1,
					LogStartOffset:  -1,
				})
			}
			topics = append(topics, kafkaproto.ProduceTopicResponse{Name: topic.Name, Partitions: partitions})
		}
		encoded, err := kafkaproto.EncodeProduceResponse(&kafkaproto.ProduceResponse{
			CorrelationID: header.CorrelationID,
			Topics:        topics,
		}, header.APIVersion)
		return encoded, err == nil
	case kafkaproto.APIKeyFetch:
		fetchReq := req.(*kafkaproto.FetchRequest)
		topics := make([]kafkaproto.FetchTopicResponse, 0, len(fetchReq.Topics))
		for _, topic := range fetchReq.Topics {
			partitions := make([]kafkaproto.FetchPartitionResponse, 0, len(topic.Partitions))
			for _, part := range topic.Partitions {
				partitions = append(partitions, kafkaproto.FetchPartitionResponse{
					Partition: part.Partition,
					ErrorCode: errorCode,
				})
			}
			topics = append(topics, kafkaproto.FetchTopicResponse{Name: topic.Name, TopicID: topic.TopicID, Partitions: partitions})
		}
		encoded, err := kafkaproto.EncodeFetchResponse(&kafkaproto.FetchResponse{
			CorrelationID: header.CorrelationID,
			ErrorCode:     errorCode,
			SessionID:     fetchReq.SessionID,
			Topics:        topics,
		}, header.APIVersion)
		return encoded, err == nil
	case kafkaproto.APIKeyMetadata:
		metaReq := req.(*kafkaproto.MetadataRequest)
		topics := make([]kafkaproto.MetadataTopic, 0, len(metaReq.Topics))
		for _, name := range metaReq.Topics {
			topics = append(topics, kafkaproto.MetadataTopic{ErrorCode: errorCode, Name: name})
		}
		encoded, err := kafkaproto.EncodeMetadataResponse(&kafkaproto.MetadataResponse{
			CorrelationID: header.CorrelationID,
			ControllerID:  -1,
			Topics:        topics,
		}, header.APIVersion)
		return encoded, err == nil
	case kafkaproto.APIKeyFindCoordinator:
		encoded, err := kafkaproto.EncodeFindCoordinatorResponse(&kafkaproto.FindCoordinatorResponse{
			CorrelationID: header.CorrelationID,
			ErrorCode:     errorCode,
			NodeID:        -1,
		}, header.APIVersion)
		return encoded, err == nil
	default:
		return nil, false
	}
}
