// Copyright 2025-2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
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

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kroxylicious/kroxylicious-go/filter/addressrewrite"
	"github.com/kroxylicious/kroxylicious-go/filter/apiversions"
	encryptionfilter "github.com/kroxylicious/kroxylicious-go/filter/encryption"
	"github.com/kroxylicious/kroxylicious-go/internal/bufferpool"
	"github.com/kroxylicious/kroxylicious-go/internal/config"
	"github.com/kroxylicious/kroxylicious-go/internal/encryption"
	"github.com/kroxylicious/kroxylicious-go/internal/filter"
	"github.com/kroxylicious/kroxylicious-go/internal/kms/awskms"
	"github.com/kroxylicious/kroxylicious-go/internal/metrics"
	"github.com/kroxylicious/kroxylicious-go/internal/proxyconn"
	"github.com/kroxylicious/kroxylicious-go/internal/vcluster"
)

const (
	defaultConfigPath = "/etc/kroxylicious/config.yaml"
)

// listener pairs a bound TCP listener with the virtual cluster table
// entries it feeds requests into.
type listener struct {
	cluster     vcluster.VirtualCluster
	endpoint    string
	binding     vcluster.Binding
	chain       *filter.Chain
	tlsCfg      *tls.Config
	auth        proxyconn.Authenticator
	idleTimeout time.Duration
}

type app struct {
	logger      *slog.Logger
	table       *vcluster.Table
	kmsMonitors []*encryption.KMSHealthMonitor
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := envOrDefault("KROXY_CONFIG", defaultConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	table := vcluster.NewTable()
	a := &app{logger: logger, table: table}

	listeners := make([]*listener, 0, len(cfg.VirtualClusters))
	for _, vc := range cfg.VirtualClusters {
		l, err := a.buildListener(ctx, vc)
		if err != nil {
			logger.Error("virtual cluster setup failed", "cluster", vc.Name, "error", err)
			os.Exit(1)
		}
		listeners = append(listeners, l)
		table.Put(vc.Endpoint, vc.SNIHostname, l.binding)
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *listener) {
			defer wg.Done()
			if err := a.serveListener(ctx, l); err != nil {
				logger.Error("listener exited", "cluster", l.cluster.Name, "error", err)
			}
		}(l)
	}

	if addr := strings.TrimSpace(cfg.HealthAddr); addr != "" {
		a.startHealthServer(ctx, addr)
	}
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		startMetricsServer(ctx, logger, addr)
	}

	wg.Wait()
}

// buildListener resolves a virtual cluster's filter chain (including
// the encryption filter when configured) and TLS material.
func (a *app) buildListener(ctx context.Context, vc config.VirtualClusterConfig) (*listener, error) {
	// the version-negotiation short-circuit always runs first so a
	// client can never negotiate a range the proxy cannot relay
	chainFilters := []filter.Filter{apiversions.New()}
	for _, fc := range vc.Filters {
		f, err := a.buildFilter(ctx, fc)
		if err != nil {
			return nil, fmt.Errorf("build filter %s: %w", fc.ShortName, err)
		}
		if f != nil {
			chainFilters = append(chainFilters, f)
		}
	}
	var rules []vcluster.BrokerAddressRule
	for _, r := range vc.BrokerAddressRules {
		rules = append(rules, vcluster.BrokerAddressRule{
			NodeID: r.NodeID, AdvertisedHost: r.AdvertisedHost, AdvertisedPort: r.AdvertisedPort,
		})
	}
	if len(rules) > 0 {
		chainFilters = append(chainFilters, addressrewrite.New(rules))
	}
	chain, err := filter.NewChain(chainFilters)
	if err != nil {
		return nil, fmt.Errorf("build filter chain: %w", err)
	}

	var tlsCfg *tls.Config
	if vc.DownstreamTLS != nil {
		cert, err := tls.LoadX509KeyPair(vc.DownstreamTLS.CertFile, vc.DownstreamTLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load downstream tls material: %w", err)
		}
		endpoint := vc.Endpoint
		tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			// unknown SNI fails inside the handshake: the client sees a
			// TLS alert and no application bytes are ever written
			GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
				if _, err := a.table.Resolve(endpoint, hello.ServerName); err != nil {
					return nil, fmt.Errorf("no virtual cluster for sni %q: %w", hello.ServerName, err)
				}
				return nil, nil
			},
		}
	}

	cluster := vcluster.VirtualCluster{
		ID:                 uuid.New(),
		Name:               vc.Name,
		UpstreamBootstrap:  vc.UpstreamBootstrap,
		LogNetwork:         vc.LogNetwork,
		LogFrames:          vc.LogFrames,
		HasDownstreamTLS:   vc.DownstreamTLS != nil,
		HasUpstreamTLS:     vc.UpstreamTLS != nil,
		BrokerAddressRules: rules,
	}

	l := &listener{
		cluster:     cluster,
		endpoint:    vc.Endpoint,
		binding:     vcluster.Binding{Cluster: cluster, UpstreamTarget: vc.UpstreamBootstrap},
		chain:       chain,
		tlsCfg:      tlsCfg,
		idleTimeout: time.Duration(vc.IdleTimeoutSeconds) * time.Second,
	}
	if vc.SASL != nil {
		l.auth = &proxyconn.PlainAuthenticator{Users: vc.SASL.Users}
	}
	return l, nil
}

// buildFilter instantiates a configured filter by its registry short
// name. Only
// the encryption filter is wired today; an unrecognized short name is
// a fatal configuration error.
func (a *app) buildFilter(ctx context.Context, fc config.FilterConfig) (filter.Filter, error) {
	switch fc.ShortName {
	case "encryption":
		var raw struct {
			Region       string            `yaml:"region"`
			DefaultKekID string            `yaml:"kekId"`
			TopicKeks    map[string]string `yaml:"topicKeks"`
		}
		if err := fc.Config.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode encryption filter config: %w", err)
		}
		kmsClient, err := awskms.NewClient(ctx, awskms.Config{
			Region:          envOrDefault("KROXY_KMS_REGION", raw.Region),
			DefaultKekID:    raw.DefaultKekID,
			TopicKekAliases: raw.TopicKeks,
		})
		if err != nil {
			return nil, fmt.Errorf("build kms client: %w", err)
		}
		monitor := encryption.NewKMSHealthMonitor(encryption.KMSHealthConfig{})
		a.kmsMonitors = append(a.kmsMonitors, monitor)
		monitored := encryption.NewMonitoredKMS(kmsClient, monitor)
		km := encryption.NewKeyManager(monitored, encryption.RawEdekSerde{}, encryption.DefaultKeyManagerConfig(), a.logger)
		dc := encryption.NewDecryptorCache(monitored)
		pool := bufferpool.New()
		resolver := kmsSchemeResolver{kms: monitored, fields: encryption.RecordFieldValue}
		return encryptionfilter.New(km, dc, pool, resolver, a.logger), nil
	default:
		return nil, fmt.Errorf("unrecognized filter type %q", fc.ShortName)
	}
}

// kmsSchemeResolver encrypts every topic the KMS can resolve a KEK
// for, leaving everything else untouched.
type kmsSchemeResolver struct {
	kms    encryption.KeyManagementService
	fields encryption.RecordField
}

func (r kmsSchemeResolver) SchemeFor(ctx context.Context, topic string) (encryption.EncryptionScheme, bool, error) {
	kekID, err := r.kms.ResolveKekID(ctx, topic)
	if err != nil {
		return encryption.EncryptionScheme{}, false, nil
	}
	return encryption.EncryptionScheme{KekID: kekID, RecordFields: r.fields}, true, nil
}

func (a *app) serveListener(ctx context.Context, l *listener) error {
	var ln net.Listener
	var err error
	if l.tlsCfg != nil {
		ln, err = tls.Listen("tcp", l.endpoint, l.tlsCfg)
	} else {
		ln, err = net.Listen("tcp", l.endpoint)
	}
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.logger.Info("virtual cluster listening", "cluster", l.cluster.Name, "cluster_id", l.cluster.ID, "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go a.handleConn(ctx, conn, l)
	}
}

func (a *app) handleConn(ctx context.Context, conn net.Conn, l *listener) {
	metrics.ConnectionsTotal.WithLabelValues(l.cluster.Name).Inc()
	metrics.ConnectionsActive.WithLabelValues(l.cluster.Name).Inc()
	defer metrics.ConnectionsActive.WithLabelValues(l.cluster.Name).Dec()

	if l.cluster.LogNetwork {
		a.logger.Info("connection accepted", "cluster", l.cluster.Name, "remote", conn.RemoteAddr().String())
		defer a.logger.Info("connection closed", "cluster", l.cluster.Name, "remote", conn.RemoteAddr().String())
	}

	binding := l.binding
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			a.logger.Warn("tls handshake failed", "cluster", l.cluster.Name, "error", err)
			conn.Close()
			return
		}
		sni := tlsConn.ConnectionState().ServerName
		b, err := a.table.Resolve(l.endpoint, sni)
		if err != nil {
			a.logger.Warn("no binding for connection", "endpoint", l.endpoint, "sni", sni, "error", err)
			conn.Close()
			return
		}
		binding = b
	}

	backendConn, err := net.DialTimeout("tcp", binding.UpstreamTarget, 10*time.Second)
	if err != nil {
		a.logger.Warn("upstream dial failed", "cluster", l.cluster.Name, "upstream", binding.UpstreamTarget, "error", err)
		conn.Close()
		return
	}
	backend := proxyconn.NewBackendConn(backendConn, a.logger)
	defer backend.Close()

	front := proxyconn.NewFrontendConn(conn, l.chain, backend, proxyconn.DefaultWatermarks(), a.logger)
	front.Auth = l.auth
	front.IdleTimeout = l.idleTimeout
	front.LogFrames = l.cluster.LogFrames
	if err := front.Serve(ctx); err != nil {
		a.logger.Debug("frontend connection closed", "cluster", l.cluster.Name, "error", err)
	}
}

func (a *app) startHealthServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		for _, m := range a.kmsMonitors {
			if m.State() == encryption.KMSStateUnavailable {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("kms unavailable\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		a.logger.Info("health server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("health server error", "error", err)
		}
	}()
}

func startMetricsServer(ctx context.Context, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server error", "error", err)
		}
	}()
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
