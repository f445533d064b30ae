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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdWatcherConfig configures the optional etcd-backed reconfiguration
// path used when several proxy instances must share one virtual-cluster
// binding table.
type EtcdWatcherConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	// Key is the single etcd key the whole binding snapshot is stored
	// under; every watcher instance reads the same key.
	Key string
}

// bindingDoc is the wire form persisted to etcd: endpoint -> sni -> binding.
type bindingDoc map[string]map[string]Binding

// EtcdWatcher keeps a Table in sync with a shared etcd-stored snapshot,
// the multi-instance analogue of the single-process Put/Update calls a
// standalone proxy makes directly.
type EtcdWatcher struct {
	client *clientv3.Client
	table  *Table
	key    string
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewEtcdWatcher connects to etcd, loads the current snapshot into
// table, and starts a background watch that keeps table current.
func NewEtcdWatcher(ctx context.Context, table *Table, cfg EtcdWatcherConfig, logger *slog.Logger) (*EtcdWatcher, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("vcluster: etcd watcher requires at least one endpoint")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Key == "" {
		cfg.Key = "/kroxylicious/vclusters/snapshot"
	}
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	w := &EtcdWatcher{client: cli, table: table, key: cfg.Key, logger: logger}
	if err := w.refresh(ctx); err != nil {
		logger.Warn("initial vcluster snapshot load failed, starting with local bindings only", "error", err)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.watch(watchCtx)
	return w, nil
}

// Publish writes doc to etcd as the shared binding snapshot; every
// watcher of the key, this one included, then reloads its table from
// it.
func (w *EtcdWatcher) Publish(ctx context.Context, doc bindingDoc) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal vcluster snapshot: %w", err)
	}
	putCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := w.client.Put(putCtx, w.key, string(payload)); err != nil {
		return fmt.Errorf("publish vcluster snapshot: %w", err)
	}
	return nil
}

func (w *EtcdWatcher) watch(ctx context.Context) {
	watchChan := w.client.Watch(ctx, w.key)
	for resp := range watchChan {
		if resp.Err() != nil {
			w.logger.Warn("vcluster snapshot watch error", "error", resp.Err())
			continue
		}
		if err := w.refresh(ctx); err != nil {
			w.logger.Warn("vcluster snapshot refresh failed", "error", err)
		}
	}
}

func (w *EtcdWatcher) refresh(ctx context.Context) error {
	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := w.client.Get(getCtx, w.key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	var doc bindingDoc
	if err := json.Unmarshal(resp.Kvs[0].Value, &doc); err != nil {
		return fmt.Errorf("decode vcluster snapshot: %w", err)
	}
	w.table.Update(doc)
	w.logger.Info("vcluster binding table reloaded from etcd", "endpoints", len(doc))
	return nil
}

// Close stops the background watch and releases the etcd client.
func (w *EtcdWatcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.client.Close()
}
