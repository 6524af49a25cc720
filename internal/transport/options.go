package transport

import (
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied by Options.withDefaults for zero-valued fields.
const (
	DefaultMaxPacketSize       = 2048
	DefaultResendInterval      = 1 * time.Second
	DefaultResendCap           = 2 * time.Second
	DefaultMaxResends          = 5
	DefaultKeepAliveInterval   = 1500 * time.Millisecond
	DefaultDisconnectTimeout   = 6 * time.Second
	DefaultTombstoneDuration   = 500 * time.Millisecond
	DefaultMaintenanceInterval = 250 * time.Millisecond
	DefaultDedupWindow         = 512
	DefaultMalformedBurst      = 10
)

// DefaultMalformedRate is the sustained budget of undecodable packets a
// peer may send before it is dropped for protocol abuse.
var DefaultMalformedRate = rate.Every(200 * time.Millisecond)

// Options tunes the UDP listener and the per-peer reliability state.
// Zero values fall back to the defaults above.
type Options struct {
	// BindAddress and Port locate the UDP socket.
	BindAddress string
	Port        int

	// MaxPacketSize caps inbound datagrams. Longer datagrams lose their
	// tail at the socket read and fail to decode.
	MaxPacketSize int

	// ResendInterval is how long an unacked reliable packet waits before
	// its first retransmit. The wait doubles per send up to ResendCap.
	// After MaxResends unanswered retransmits the peer is declared dead.
	ResendInterval time.Duration
	ResendCap      time.Duration
	MaxResends     int

	// KeepAliveInterval is how long the server side of a connection may
	// stay idle before a ping is sent. DisconnectTimeout is how long a
	// peer may stay silent before it is declared dead.
	KeepAliveInterval time.Duration
	DisconnectTimeout time.Duration

	// TombstoneDuration is how long after a disconnect the listener keeps
	// acking packets that were still in flight from the old session.
	TombstoneDuration time.Duration

	// MaintenanceInterval is the period of the retransmit and keepalive
	// sweep. It bounds the precision of every timer above.
	MaintenanceInterval time.Duration

	// DedupWindow bounds the per-peer set of recently seen nonces.
	DedupWindow int

	// MalformedRate and MalformedBurst budget undecodable packets per
	// peer. A peer over budget is disconnected with ReasonHacking.
	MalformedRate  rate.Limit
	MalformedBurst int
}

// DefaultOptions returns the production defaults on port 22023.
func DefaultOptions() Options {
	return Options{Port: 22023}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.MaxPacketSize <= 0 {
		o.MaxPacketSize = DefaultMaxPacketSize
	}
	if o.ResendInterval <= 0 {
		o.ResendInterval = DefaultResendInterval
	}
	if o.ResendCap <= 0 {
		o.ResendCap = DefaultResendCap
	}
	if o.MaxResends <= 0 {
		o.MaxResends = DefaultMaxResends
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if o.TombstoneDuration <= 0 {
		o.TombstoneDuration = DefaultTombstoneDuration
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.MalformedRate <= 0 {
		o.MalformedRate = DefaultMalformedRate
	}
	if o.MalformedBurst <= 0 {
		o.MalformedBurst = DefaultMalformedBurst
	}
	return o
}
