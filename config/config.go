// Package config holds the tuning knobs the peer event loop and its
// collaborators are parameterized by, loaded from a TOML file the way
// the teacher repo's binaries load theirs.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config bundles the raft tuning knobs spec.md's component design refers
// to (RaftElectionTimeoutTicks, RaftHeartbeatTicks, ...) plus the
// scheduling knobs this repository's router and tick queue need.
type Config struct {
	// StoreID identifies the physical store this process runs.
	StoreID uint64 `toml:"store-id"`

	// RaftBaseTickInterval is the wall-clock period of one logical tick
	// fed to every region's RaftNode.Tick.
	RaftBaseTickInterval time.Duration `toml:"raft-base-tick-interval"`

	RaftElectionTimeoutTicks int    `toml:"raft-election-timeout-ticks"`
	RaftHeartbeatTicks       int    `toml:"raft-heartbeat-ticks"`
	RaftMaxSizePerMsg        uint64 `toml:"raft-max-size-per-msg"`
	RaftMaxInflightMsgs      int    `toml:"raft-max-inflight-msgs"`
	RaftEntryMaxSize         uint64 `toml:"raft-entry-max-size"`

	// AllowRemoveLeader permits a conf change to remove the peer that is
	// currently the leader of its region.
	AllowRemoveLeader bool `toml:"allow-remove-leader"`

	// LeaderTransferMaxLogLag is a log-lag bound (in log entries) for a
	// leader transfer target. Nothing in this repository reads it: a
	// transfer-leader request is passed to RaftNode.TransferLeader without
	// any log-lag check.
	LeaderTransferMaxLogLag uint64 `toml:"leader-transfer-max-log-lag"`

	// TickQueueCapacity bounds how many pending region ids the store's
	// TickQueue may hold before a tick is dropped rather than blocking
	// the region's worker goroutine that pushes it.
	TickQueueCapacity int `toml:"tick-queue-capacity"`

	// RaftWorkerCount is the number of worker goroutines the router
	// fans per-region raft messages out to.
	RaftWorkerCount int `toml:"raft-worker-count"`
}

// NewDefaultConfig returns the knob values this repository ships with,
// tuned for tests and local runs rather than a production cluster.
func NewDefaultConfig() *Config {
	return &Config{
		StoreID:                  1,
		RaftBaseTickInterval:     1 * time.Second,
		RaftElectionTimeoutTicks: 10,
		RaftHeartbeatTicks:       2,
		RaftMaxSizePerMsg:        1024 * 1024,
		RaftMaxInflightMsgs:      256,
		RaftEntryMaxSize:         8 * 1024 * 1024,
		AllowRemoveLeader:        false,
		LeaderTransferMaxLogLag:  10,
		TickQueueCapacity:        1024,
		RaftWorkerCount:          2,
	}
}

// Load reads a TOML file at path over top of NewDefaultConfig, so an
// incomplete file only overrides the keys it mentions.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
