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

package vcluster

import (
	"errors"
	"testing"
)

func TestResolveKnownSNI(t *testing.T) {
	table := NewTable()
	table.Put("0.0.0.0:9092", "cluster-a.example", Binding{
		Cluster:        VirtualCluster{Name: "cluster-a"},
		UpstreamTarget: "kafka-a:9092",
	})

	b, err := table.Resolve("0.0.0.0:9092", "cluster-a.example")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Cluster.Name != "cluster-a" {
		t.Fatalf("unexpected binding: %+v", b)
	}
}

func TestResolveUnknownSNIReturnsNoBinding(t *testing.T) {
	table := NewTable()
	table.Put("0.0.0.0:9092", "cluster-a.example", Binding{Cluster: VirtualCluster{Name: "cluster-a"}})

	_, err := table.Resolve("0.0.0.0:9092", "unknown.example")
	if !errors.Is(err, ErrNoBinding) {
		t.Fatalf("expected ErrNoBinding, got %v", err)
	}
}

func TestResolvePlaintextFallsBackToNoSNIBinding(t *testing.T) {
	table := NewTable()
	table.Put("0.0.0.0:9093", "", Binding{Cluster: VirtualCluster{Name: "plaintext-cluster"}})

	b, err := table.Resolve("0.0.0.0:9093", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Cluster.Name != "plaintext-cluster" {
		t.Fatalf("unexpected binding: %+v", b)
	}
}

func TestUpdateReplacesWholeTable(t *testing.T) {
	table := NewTable()
	table.Put("0.0.0.0:9092", "old.example", Binding{Cluster: VirtualCluster{Name: "old"}})

	table.Update(map[string]map[string]Binding{
		"0.0.0.0:9092": {"new.example": {Cluster: VirtualCluster{Name: "new"}}},
	})

	if _, err := table.Resolve("0.0.0.0:9092", "old.example"); !errors.Is(err, ErrNoBinding) {
		t.Fatalf("expected old binding to be gone, got err=%v", err)
	}
	b, err := table.Resolve("0.0.0.0:9092", "new.example")
	if err != nil || b.Cluster.Name != "new" {
		t.Fatalf("expected new binding, got %+v err=%v", b, err)
	}
}
