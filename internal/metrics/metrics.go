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

// Package metrics exposes the proxy's Prometheus metrics: connection
// lifecycle, filter chain outcomes, and the encryption filter's DEK
// lifecycle and decrypt-integrity failures.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kroxylicious_connections_active",
		Help: "Number of currently open downstream connections, by virtual cluster.",
	}, []string{"virtual_cluster"})

	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kroxylicious_connections_total",
		Help: "Count of downstream connections accepted, by virtual cluster.",
	}, []string{"virtual_cluster"})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kroxylicious_requests_total",
		Help: "Count of requests relayed, labeled by API key and outcome.",
	}, []string{"api_key", "outcome"})

	FilterChainDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kroxylicious_filter_chain_duration_seconds",
		Help:    "Time spent driving a request or response through the filter chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	DekGenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kroxylicious_encryption_dek_generations_total",
		Help: "Count of DEK generations requested from the KMS, by KEK id.",
	}, []string{"kek_id"})

	DekLeaseRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kroxylicious_encryption_dek_lease_retries_total",
		Help: "Count of DEK lease attempts that found the context destroyed, expired, or exhausted and retried.",
	})

	RequestNotSatisfiableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kroxylicious_encryption_request_not_satisfiable_total",
		Help: "Count of encrypt calls that failed after exhausting the lease retry budget.",
	})

	DecryptIntegrityFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kroxylicious_encryption_decrypt_integrity_failures_total",
		Help: "Count of records dropped because their AEAD tag failed to verify.",
	}, []string{"topic"})

	KMSOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kroxylicious_kms_operation_duration_seconds",
		Help:    "Latency of KMS operations, labeled by operation and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsTotal,
		RequestsTotal,
		FilterChainDuration,
		DekGenerationsTotal,
		DekLeaseRetriesTotal,
		RequestNotSatisfiableTotal,
		DecryptIntegrityFailuresTotal,
		KMSOperationDuration,
	)
}
