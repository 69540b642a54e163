package receiver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/framegate/internal/protocol/frame"
	"github.com/danmuck/framegate/internal/transport"
	multierror "github.com/hashicorp/go-multierror"
)

var (
	ErrListenAddrRequired = errors.New("receiver: listen addr required")
	ErrInvalidWorkers     = errors.New("receiver: workers must be positive")
	ErrInvalidQueueDepth  = errors.New("receiver: queue depth must not be negative")
	ErrInvalidMaxFlows    = errors.New("receiver: max flows must not be negative")
	ErrInvalidBodyLimit   = errors.New("receiver: max body bytes must be positive")
)

// Receiver endpoint configuration.
type ServiceConfig struct {
	ListenAddr string
	// AdminAddr enables the admin HTTP surface when set.
	AdminAddr        string
	AdminCORSOrigins []string
	// AdminToken, when set, guards /status and /metrics.
	AdminToken string
	NodeID     string
	// MaxFlows stops Serve after this many channel flows close. 0 serves
	// until shutdown.
	MaxFlows      int
	Workers       int
	QueueDepth    int
	RecentResults int
	Limits        frame.Limits
	Transport     transport.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:       "127.0.0.1:4567",
		AdminAddr:        "",
		AdminCORSOrigins: nil,
		AdminToken:       "",
		NodeID:           "framegate",
		MaxFlows:         1,
		Workers:          4,
		QueueDepth:       16,
		RecentResults:    32,
		Limits:           frame.DefaultLimits(),
		Transport:        transport.DefaultConfig(),
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = def.NodeID
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.RecentResults <= 0 {
		c.RecentResults = def.RecentResults
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits = def.Limits
	}
	c.Transport = c.Transport.WithDefaults()
	return c
}

// Validate reports every problem at once.
func (c ServiceConfig) Validate() error {
	var result *multierror.Error
	if err := c.Transport.ValidateServerTransport(); err != nil {
		result = multierror.Append(result, err)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		result = multierror.Append(result, ErrListenAddrRequired)
	}
	if c.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers))
	}
	if c.QueueDepth < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %d", ErrInvalidQueueDepth, c.QueueDepth))
	}
	if c.MaxFlows < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %d", ErrInvalidMaxFlows, c.MaxFlows))
	}
	if c.Limits.MaxBodyBytes == 0 {
		result = multierror.Append(result, ErrInvalidBodyLimit)
	}
	return result.ErrorOrNil()
}
