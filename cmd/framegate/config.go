package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/framegate/internal/receiver"
	"github.com/danmuck/framegate/internal/transport"
)

// framegate config.toml key mapping to receiver settings.
type fileConfig struct {
	Addr             string   `toml:"addr"`
	AdminAddr        string   `toml:"admin_addr"`
	AdminCORSOrigins []string `toml:"admin_cors_origins"`
	AdminToken       string   `toml:"admin_token"`
	NodeID           string   `toml:"node_id"`
	MaxFlows         int      `toml:"max_flows"`
	Workers          int      `toml:"workers"`
	QueueDepth       int      `toml:"queue_depth"`
	RecentResults    int      `toml:"recent_results"`
	MaxBodyBytes     uint32   `toml:"max_body_bytes"`

	Transport        string `toml:"transport"`
	ALPN             string `toml:"alpn"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	ChannelTimeout   string `toml:"channel_timeout"`
	HeaderTimeout    string `toml:"header_timeout"`
	BodyTimeout      string `toml:"body_timeout"`
	IdleTimeout      string `toml:"idle_timeout"`
	KeepAlivePeriod  string `toml:"keepalive_period"`

	TLSCertFile       string   `toml:"tls_cert_file"`
	TLSKeyFile        string   `toml:"tls_key_file"`
	TLSHosts          []string `toml:"tls_hosts"`
	TLSExportCertFile string   `toml:"tls_export_cert_file"`
}

// loadServiceConfig overlays keys present in path onto the receiver defaults.
func loadServiceConfig(path string) (receiver.ServiceConfig, error) {
	cfg := receiver.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return receiver.ServiceConfig{}, fmt.Errorf("load framegate config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return receiver.ServiceConfig{}, fmt.Errorf("load framegate config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("max_flows") {
		cfg.MaxFlows = raw.MaxFlows
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("recent_results") {
		cfg.RecentResults = raw.RecentResults
	}
	if meta.IsDefined("max_body_bytes") {
		cfg.Limits.MaxBodyBytes = raw.MaxBodyBytes
	}

	if meta.IsDefined("transport") {
		cfg.Transport.Kind = transport.NormalizeKind(transport.Kind(raw.Transport))
	}
	if meta.IsDefined("alpn") {
		cfg.Transport.ALPN = strings.TrimSpace(raw.ALPN)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
		{"channel_timeout", raw.ChannelTimeout, &cfg.Transport.ChannelTimeout},
		{"header_timeout", raw.HeaderTimeout, &cfg.Transport.HeaderTimeout},
		{"body_timeout", raw.BodyTimeout, &cfg.Transport.BodyTimeout},
		{"idle_timeout", raw.IdleTimeout, &cfg.Transport.IdleTimeout},
		{"keepalive_period", raw.KeepAlivePeriod, &cfg.Transport.KeepAlivePeriod},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return receiver.ServiceConfig{}, fmt.Errorf("load framegate config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("tls_cert_file") {
		cfg.Transport.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Transport.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_hosts") {
		cfg.Transport.TLS.Hosts = raw.TLSHosts
	}
	if meta.IsDefined("tls_export_cert_file") {
		cfg.Transport.TLS.ExportCertFile = strings.TrimSpace(raw.TLSExportCertFile)
	}

	if err := cfg.Validate(); err != nil {
		return receiver.ServiceConfig{}, fmt.Errorf("load framegate config: %w", err)
	}
	return cfg, nil
}
