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
	"time"

	"github.com/kroxylicious/kroxylicious-go/internal/metrics"
)

// MonitoredKMS decorates a KeyManagementService with per-operation
// latency/outcome recording, feeding both the Prometheus histogram and
// the health monitor operators alert on. The wrapped calls themselves
// are untouched; the KMS still enforces its own timeouts.
type MonitoredKMS struct {
	kms     KeyManagementService
	monitor *KMSHealthMonitor
}

var _ KeyManagementService = (*MonitoredKMS)(nil)

// NewMonitoredKMS wraps kms; monitor must be non-nil.
func NewMonitoredKMS(kms KeyManagementService, monitor *KMSHealthMonitor) *MonitoredKMS {
	return &MonitoredKMS{kms: kms, monitor: monitor}
}

// Monitor exposes the health monitor for readiness reporting.
func (m *MonitoredKMS) Monitor() *KMSHealthMonitor { return m.monitor }

func (m *MonitoredKMS) GenerateDekPair(ctx context.Context, kekID string) (DEK, EDEK, error) {
	start := time.Now()
	dek, edek, err := m.kms.GenerateDekPair(ctx, kekID)
	m.record("generateDekPair", start, err)
	return dek, edek, err
}

func (m *MonitoredKMS) DecryptEdek(ctx context.Context, edek EDEK) (DEK, error) {
	start := time.Now()
	dek, err := m.kms.DecryptEdek(ctx, edek)
	m.record("decryptEdek", start, err)
	return dek, err
}

func (m *MonitoredKMS) ResolveKekID(ctx context.Context, topic string) (string, error) {
	start := time.Now()
	kekID, err := m.kms.ResolveKekID(ctx, topic)
	m.record("resolveKekId", start, err)
	return kekID, err
}

func (m *MonitoredKMS) record(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.KMSOperationDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
	m.monitor.RecordOperation(op, elapsed, err)
}
