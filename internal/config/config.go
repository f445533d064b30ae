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

// Package config defines the YAML configuration schema and a minimal
// loader/validator: parse, validate the shape, hand back typed
// structs. Anything fancier (hot reload, overlays) belongs to the
// caller.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TLSConfig names the cert/key material for a listener or upstream
// connection; out of scope is the loading of the files themselves
// (left to crypto/tls at wiring time).
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile,omitempty"`
}

// BrokerAddressRule rewrites one broker's advertised address in
// Metadata responses.
type BrokerAddressRule struct {
	NodeID         int32  `yaml:"nodeId"`
	AdvertisedHost string `yaml:"advertisedHost"`
	AdvertisedPort int32  `yaml:"advertisedPort"`
}

// SASLConfig gates a listener behind a proxy-terminated SASL exchange.
// Only PLAIN with a static user table is supported.
type SASLConfig struct {
	Mechanism string            `yaml:"mechanism"`
	Users     map[string]string `yaml:"users"`
}

// FilterConfig is one configured filter instance: its registry short
// name and an opaque config document handed to that filter's factory.
type FilterConfig struct {
	ShortName string    `yaml:"type"`
	Config    yaml.Node `yaml:"config"`
}

// VirtualClusterConfig is one configured virtual cluster.
type VirtualClusterConfig struct {
	Name               string              `yaml:"name"`
	Endpoint           string              `yaml:"endpoint"`
	SNIHostname        string              `yaml:"sniHostname,omitempty"`
	UpstreamBootstrap  string              `yaml:"upstreamBootstrap"`
	DownstreamTLS      *TLSConfig          `yaml:"downstreamTls,omitempty"`
	UpstreamTLS        *TLSConfig          `yaml:"upstreamTls,omitempty"`
	SASL               *SASLConfig         `yaml:"sasl,omitempty"`
	LogNetwork         bool                `yaml:"logNetwork"`
	LogFrames          bool                `yaml:"logFrames"`
	IdleTimeoutSeconds int                 `yaml:"idleTimeoutSeconds,omitempty"`
	BrokerAddressRules []BrokerAddressRule `yaml:"brokerAddressRules,omitempty"`
	Filters            []FilterConfig      `yaml:"filters,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	VirtualClusters []VirtualClusterConfig `yaml:"virtualClusters"`
	MetricsAddr     string                 `yaml:"metricsAddr,omitempty"`
	HealthAddr      string                 `yaml:"healthAddr,omitempty"`
}

// Load reads and parses a YAML config document from path, validating
// the shape before returning it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the minimal shape the proxy needs to start: at
// least one virtual cluster, each with a name, listen endpoint, and
// upstream bootstrap.
func (c *Config) Validate() error {
	if len(c.VirtualClusters) == 0 {
		return fmt.Errorf("at least one virtualCluster is required")
	}
	seen := make(map[string]bool, len(c.VirtualClusters))
	for i, vc := range c.VirtualClusters {
		if vc.Name == "" {
			return fmt.Errorf("virtualClusters[%d]: name required", i)
		}
		if seen[vc.Name] {
			return fmt.Errorf("virtualClusters[%d]: duplicate name %q", i, vc.Name)
		}
		seen[vc.Name] = true
		if vc.Endpoint == "" {
			return fmt.Errorf("virtualClusters[%d] (%s): endpoint required", i, vc.Name)
		}
		if vc.UpstreamBootstrap == "" {
			return fmt.Errorf("virtualClusters[%d] (%s): upstreamBootstrap required", i, vc.Name)
		}
		if vc.SASL != nil {
			if vc.SASL.Mechanism != "PLAIN" {
				return fmt.Errorf("virtualClusters[%d] (%s): unsupported sasl mechanism %q", i, vc.Name, vc.SASL.Mechanism)
			}
			if len(vc.SASL.Users) == 0 {
				return fmt.Errorf("virtualClusters[%d] (%s): sasl requires at least one user", i, vc.Name)
			}
		}
	}
	return nil
}
