package transport

import (
	"fmt"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Kind selects the secure multiplexed transport.
type Kind string

const (
	KindQUIC     Kind = "quic"
	KindTLSYamux Kind = "tls-yamux"
)

// DefaultALPN is the application protocol identifier negotiated during the
// handshake.
const DefaultALPN = "demo"

// TLSConfig describes the server identity and client trust settings.
type TLSConfig struct {
	// Server: load a key pair when both files are set, otherwise generate a
	// self-signed certificate valid for Hosts.
	CertFile       string
	KeyFile        string
	Hosts          []string
	ExportCertFile string

	// Client trust.
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines transport selection, negotiation and per-wait deadlines.
type Config struct {
	Kind Kind
	ALPN string

	HandshakeTimeout time.Duration
	ChannelTimeout   time.Duration
	HeaderTimeout    time.Duration
	BodyTimeout      time.Duration
	IdleTimeout      time.Duration
	KeepAlivePeriod  time.Duration

	TLS TLSConfig
}

func DefaultHosts() []string {
	return []string{"127.0.0.1", "localhost", "0.0.0.0"}
}

func DefaultConfig() Config {
	return Config{
		Kind:             KindQUIC,
		ALPN:             DefaultALPN,
		HandshakeTimeout: 5 * time.Second,
		ChannelTimeout:   30 * time.Second,
		HeaderTimeout:    15 * time.Second,
		BodyTimeout:      15 * time.Second,
		IdleTimeout:      60 * time.Second,
		KeepAlivePeriod:  0,
		TLS: TLSConfig{
			Hosts: DefaultHosts(),
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Kind)) == "" {
		c.Kind = def.Kind
	}
	c.Kind = NormalizeKind(c.Kind)
	if strings.TrimSpace(c.ALPN) == "" {
		c.ALPN = def.ALPN
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ChannelTimeout == 0 {
		c.ChannelTimeout = def.ChannelTimeout
	}
	if c.HeaderTimeout == 0 {
		c.HeaderTimeout = def.HeaderTimeout
	}
	if c.BodyTimeout == 0 {
		c.BodyTimeout = def.BodyTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.TLS.Hosts == nil {
		c.TLS.Hosts = def.TLS.Hosts
	}
	return c
}

func NormalizeKind(kind Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func (c Config) ValidateServerTransport() error {
	result := c.validateCommon()
	certSet := strings.TrimSpace(c.TLS.CertFile) != ""
	keySet := strings.TrimSpace(c.TLS.KeyFile) != ""
	switch {
	case certSet && !keySet:
		result = multierror.Append(result, ErrTLSKeyFileRequired)
	case keySet && !certSet:
		result = multierror.Append(result, ErrTLSCertFileRequired)
	case !certSet && !keySet && len(nonEmpty(c.TLS.Hosts)) == 0:
		result = multierror.Append(result, ErrHostsRequired)
	}
	return result.ErrorOrNil()
}

func (c Config) ValidateClientTransport() error {
	result := c.validateCommon()
	if !c.TLS.InsecureSkipVerify && strings.TrimSpace(c.TLS.CAFile) == "" {
		result = multierror.Append(result, ErrTLSCAFileRequired)
	}
	return result.ErrorOrNil()
}

func (c Config) validateCommon() *multierror.Error {
	var result *multierror.Error
	switch NormalizeKind(c.Kind) {
	case KindQUIC, KindTLSYamux:
	default:
		result = multierror.Append(result, fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind))
	}
	if strings.TrimSpace(c.ALPN) == "" {
		result = multierror.Append(result, ErrALPNRequired)
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"handshake", c.HandshakeTimeout},
		{"channel", c.ChannelTimeout},
		{"header", c.HeaderTimeout},
		{"body", c.BodyTimeout},
		{"idle", c.IdleTimeout},
	}
	for _, to := range timeouts {
		if to.d <= 0 {
			result = multierror.Append(result, fmt.Errorf("%w: %s=%s", ErrInvalidTimeout, to.name, to.d))
		}
	}
	return result
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
