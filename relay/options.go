package relay

import "time"

// Capability is a bitmask describing what a relay may be used for.
type Capability uint8

const (
	Read Capability = 1 << iota
	Write
	Discovery
	Gossip
)

func (c Capability) Has(flag Capability) bool { return c&flag != 0 }

// Default timeouts.
const (
	DefaultHandshakeTimeout    = 60 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultAuthWaitTimeout     = 10 * time.Second
	DefaultOKWaitTimeout       = 10 * time.Second
	DefaultPingInterval        = 55 * time.Second
	DefaultIdleTimeout         = 5 * time.Minute
	DefaultBaseBackoff         = 500 * time.Millisecond
	DefaultMaxBackoff          = 5 * time.Minute
	DefaultMaxMessageSize      = 512 * 1024
	DefaultMaxEventTags        = 2000
	DefaultMaxFilterIDs        = 500
	DefaultMinAttempts         = 5
	DefaultMinSuccessRate      = 0.5
	DefaultConnectionTimeout   = 60 * time.Second
	DefaultMaxAvgLatency       = 10 * time.Second
	DefaultOutboundQueueSize   = 256
	DefaultRingBufferSize      = 100
)

// Options configures one relay connection's policy knobs. The zero
// value is not directly usable; start from DefaultOptions.
type Options struct {
	Capabilities Capability

	ReconnectEnabled bool
	SleepWhenIdle    bool
	AutoAuth         bool
	BanOnMismatch    bool // ban the relay when a subscription-verification mismatch is detected

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AuthWaitTimeout  time.Duration
	OKWaitTimeout    time.Duration
	PingInterval     time.Duration
	IdleTimeout      time.Duration

	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	MaxMessageSize int
	MaxEventTags   int
	MaxFilterIDs   int

	MinAttempts       int
	MinSuccessRate    float64
	ConnectionTimeout time.Duration
	MaxAvgLatency     time.Duration
}

// DefaultOptions returns the policy every relay gets unless the
// application overrides it via client.Config or pool.AddRelay.
func DefaultOptions() Options {
	return Options{
		Capabilities:      Read | Write,
		ReconnectEnabled:  true,
		SleepWhenIdle:     true,
		AutoAuth:          true,
		BanOnMismatch:     false,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		AuthWaitTimeout:   DefaultAuthWaitTimeout,
		OKWaitTimeout:     DefaultOKWaitTimeout,
		PingInterval:      DefaultPingInterval,
		IdleTimeout:       DefaultIdleTimeout,
		BaseBackoff:       DefaultBaseBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		MaxMessageSize:    DefaultMaxMessageSize,
		MaxEventTags:      DefaultMaxEventTags,
		MaxFilterIDs:      DefaultMaxFilterIDs,
		MinAttempts:       DefaultMinAttempts,
		MinSuccessRate:    DefaultMinSuccessRate,
		ConnectionTimeout: DefaultConnectionTimeout,
		MaxAvgLatency:     DefaultMaxAvgLatency,
	}
}
