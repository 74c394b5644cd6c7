package dht

import (
	"time"

	"github.com/opd-ai/peercore/nodeid"
)

// Config holds the tunables for a DHT Engine, per §6 of the design.
type Config struct {
	// NodeID is the local node's identity. If it is the zero value, New
	// generates a random one.
	NodeID nodeid.ID

	// BucketSize is k, the capacity of each k-bucket.
	BucketSize int

	// Alpha is the lookup parallelism factor.
	Alpha int

	// BucketRefreshInterval controls how often stale buckets are refreshed.
	BucketRefreshInterval time.Duration

	// RepublishInterval controls how often locally held values are
	// re-replicated to the network.
	RepublishInterval time.Duration

	// ExpireInterval is the maximum age of a locally held value before it
	// is dropped instead of republished.
	ExpireInterval time.Duration

	// PingTimeout bounds every outbound request.
	PingTimeout time.Duration

	// MaxRetries bounds how many times bootstrap re-attempts a seed.
	MaxRetries int
}

// DefaultConfig returns the documented defaults from §6.
func DefaultConfig() Config {
	return Config{
		BucketSize:            DefaultBucketSize,
		Alpha:                 3,
		BucketRefreshInterval: time.Hour,
		RepublishInterval:     time.Hour,
		ExpireInterval:        24 * time.Hour,
		PingTimeout:           5 * time.Second,
		MaxRetries:            3,
	}
}

// Validate reports a ConfigError for the first out-of-range value found.
func (c Config) Validate() error {
	if c.BucketSize <= 0 {
		return &ConfigError{Field: "BucketSize", Reason: "must be positive"}
	}
	if c.Alpha <= 0 {
		return &ConfigError{Field: "Alpha", Reason: "must be positive"}
	}
	if c.PingTimeout <= 0 {
		return &ConfigError{Field: "PingTimeout", Reason: "must be positive"}
	}
	if c.BucketRefreshInterval <= 0 {
		return &ConfigError{Field: "BucketRefreshInterval", Reason: "must be positive"}
	}
	if c.RepublishInterval <= 0 {
		return &ConfigError{Field: "RepublishInterval", Reason: "must be positive"}
	}
	if c.ExpireInterval <= 0 {
		return &ConfigError{Field: "ExpireInterval", Reason: "must be positive"}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "MaxRetries", Reason: "must not be negative"}
	}
	return nil
}

// ConfigError reports a configuration value outside its documented range.
// It is fatal to Start: construction succeeds but Start refuses to run
// with an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "dht: invalid config field " + e.Field + ": " + e.Reason
}
