// Package config decodes and validates riftnet endpoint configuration.
// Loosely-typed sources (JSON, YAML, env-derived maps) are decoded through
// mapstructure the way localrivet-gomcp decodes tool arguments, so callers
// are not forced onto one serialization format.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/riftnet/riftnet/internal/wire"
)

// MaxPacketSize is the hard wire-format ceiling on a single packet's
// payload (spec.md §6.1 bounds the datagram length fields at 16 bits).
const MaxPacketSize = 65535

// MaxFragmentSize and MaxFrameSize are re-exported from internal/wire so
// callers of this package don't need a second import to reason about
// allocation rounding.
const (
	MaxFragmentSize = wire.MaxFragmentSize
	MaxFrameSize    = wire.MaxFrameSize
)

// EndpointConfig holds every caller-facing option enumerated in spec.md §6.2,
// plus the handshake/resend tuning block spec.md §4.5 gives reference values
// for.
type EndpointConfig struct {
	MaxSendRate     uint32 `mapstructure:"max_send_rate"`
	MaxReceiveRate  uint32 `mapstructure:"max_receive_rate"`
	MaxPacketSize   uint32 `mapstructure:"max_packet_size"`
	MaxReceiveAlloc uint32 `mapstructure:"max_receive_alloc"`
	Keepalive       bool   `mapstructure:"keepalive"`

	HandshakeInterval  time.Duration `mapstructure:"handshake_interval"`
	HandshakeCount     int           `mapstructure:"handshake_count"`
	DisconnectInterval time.Duration `mapstructure:"disconnect_interval"`
	DisconnectCount    int           `mapstructure:"disconnect_count"`
	ClosedGrace        time.Duration `mapstructure:"closed_grace"`
	ActiveTimeout      time.Duration `mapstructure:"active_timeout"`
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval"`
}

// Default returns the reference configuration from spec.md §4.5.
func Default() EndpointConfig {
	return EndpointConfig{
		MaxSendRate:     1 << 20, // 1 MiB/s
		MaxReceiveRate:  1 << 20,
		MaxPacketSize:   MaxPacketSize,
		MaxReceiveAlloc: 1 << 20,
		Keepalive:       true,

		HandshakeInterval:  2 * time.Second,
		HandshakeCount:     10,
		DisconnectInterval: 2 * time.Second,
		DisconnectCount:    10,
		ClosedGrace:        20 * time.Second,
		ActiveTimeout:      20 * time.Second,
		KeepaliveInterval:  5 * time.Second,
	}
}

// FromMap decodes a loosely-typed source (e.g. parsed JSON/YAML) over the
// defaults and validates the result.
func FromMap(m map[string]interface{}) (EndpointConfig, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return EndpointConfig{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return EndpointConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the caller-precondition constraints spec.md §6.2 names.
func (c EndpointConfig) Validate() error {
	if c.MaxSendRate == 0 {
		return fmt.Errorf("config: max_send_rate must be > 0")
	}
	if c.MaxReceiveRate == 0 {
		return fmt.Errorf("config: max_receive_rate must be > 0")
	}
	if c.MaxPacketSize == 0 {
		return fmt.Errorf("config: max_packet_size must be > 0")
	}
	if c.MaxPacketSize > MaxPacketSize {
		return fmt.Errorf("config: max_packet_size %d exceeds hard ceiling %d", c.MaxPacketSize, MaxPacketSize)
	}
	if c.MaxReceiveAlloc == 0 {
		return fmt.Errorf("config: max_receive_alloc must be > 0")
	}
	return nil
}

// RoundedAlloc rounds alloc up to the nearest MaxFragmentSize multiple, the
// way the receiver and sender both charge allocation budgets.
func RoundedAlloc(alloc uint32) uint32 {
	return RoundUpFrag(alloc)
}

// RoundUpFrag rounds n up to the nearest MaxFragmentSize multiple.
func RoundUpFrag(n uint32) uint32 {
	if n%MaxFragmentSize == 0 {
		return n
	}
	return (n/MaxFragmentSize + 1) * MaxFragmentSize
}
