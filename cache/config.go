package cache

import "time"

// EvictionPolicy selects how the hot tier picks a victim when it must make
// room for a new entry. CRITICAL entries are never chosen regardless of
// policy.
type EvictionPolicy int

const (
	// PolicyLRUWithReputation ranks by CachedPeer.Score, the hybrid of
	// reputation, access frequency, recency, and cache age. Default.
	PolicyLRUWithReputation EvictionPolicy = iota
	// PolicyLRU evicts the least-recently-accessed entry.
	PolicyLRU
	// PolicyLFU evicts the least-frequently-accessed entry.
	PolicyLFU
	// PolicyTTLSoonest evicts whichever entry expires soonest.
	PolicyTTLSoonest
	// PolicyLowestReputation evicts the lowest-reputation entry.
	PolicyLowestReputation
	// PolicyNetworkDistance evicts the entry with the largest network
	// distance from the local node.
	PolicyNetworkDistance
)

func (p EvictionPolicy) String() string {
	switch p {
	case PolicyLRUWithReputation:
		return "LRU_WITH_REPUTATION"
	case PolicyLRU:
		return "LRU"
	case PolicyLFU:
		return "LFU"
	case PolicyTTLSoonest:
		return "TTL"
	case PolicyLowestReputation:
		return "REPUTATION"
	case PolicyNetworkDistance:
		return "NETWORK_DISTANCE"
	default:
		return "UNKNOWN"
	}
}

// Config holds the PeerCache's tunables, per §6 "Configuration (Cache)".
type Config struct {
	MaxMemoryCacheSize    int
	MaxDiskCacheSize      int
	DefaultTTL            time.Duration
	HighPriorityTTL       time.Duration
	CleanupInterval       time.Duration
	PersistenceEnabled    bool
	CompressionEnabled    bool
	EvictionPolicy        EvictionPolicy
	ReputationDecayRate   float64
	ConnectionHistorySize int
	AutoWarmingEnabled    bool

	// DiskPath names the bbolt file backing the cold tier when
	// PersistenceEnabled is true. Empty means an ephemeral temp file.
	DiskPath string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryCacheSize:    500,
		MaxDiskCacheSize:      2000,
		DefaultTTL:            24 * time.Hour,
		HighPriorityTTL:       7 * 24 * time.Hour,
		CleanupInterval:       time.Hour,
		PersistenceEnabled:    true,
		CompressionEnabled:    true,
		EvictionPolicy:        PolicyLRUWithReputation,
		ReputationDecayRate:   0.1,
		ConnectionHistorySize: 10,
		AutoWarmingEnabled:    true,
	}
}

// Validate reports a ConfigError for any value outside its documented
// range, mirroring dht.Config.Validate's role in the startup path.
func (c Config) Validate() error {
	if c.MaxMemoryCacheSize <= 0 {
		return &ConfigError{Field: "max_memory_cache_size", Reason: "must be positive"}
	}
	if c.MaxDiskCacheSize < 0 {
		return &ConfigError{Field: "max_disk_cache_size", Reason: "must be non-negative"}
	}
	if c.DefaultTTL <= 0 {
		return &ConfigError{Field: "default_ttl", Reason: "must be positive"}
	}
	if c.HighPriorityTTL <= 0 {
		return &ConfigError{Field: "high_priority_ttl", Reason: "must be positive"}
	}
	if c.CleanupInterval <= 0 {
		return &ConfigError{Field: "cleanup_interval", Reason: "must be positive"}
	}
	if c.ReputationDecayRate < 0 || c.ReputationDecayRate > 1 {
		return &ConfigError{Field: "reputation_decay_rate", Reason: "must be in [0,1]"}
	}
	if c.ConnectionHistorySize <= 0 {
		return &ConfigError{Field: "connection_history_size", Reason: "must be positive"}
	}
	return nil
}

// ConfigError reports an out-of-range Config field. It is the cache
// package's ConfigInvalid taxonomy entry.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "cache: invalid config field " + e.Field + ": " + e.Reason
}
