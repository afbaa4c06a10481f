// Copyright (c) 2026 Hayabusa Cloud Co., Ltd. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config decodes the TOML configuration table spec §6 defines:
// mempool size classes, per-subscriber queue sizing and overflow policy,
// wait-set capacity, and the shared-segment size ceiling.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"code.hybscloud.com/shmipc/delivery"
)

// MempoolClass is one (chunk_size, count) entry of mempool_config.
type MempoolClass struct {
	ChunkSize uint32 `toml:"chunk_size"`
	Count     int    `toml:"count"`
}

// Config mirrors spec §6's configuration table.
type Config struct {
	MempoolConfig           []MempoolClass `toml:"mempool_config"`
	SubscriberQueueCapacity int            `toml:"subscriber_queue_capacity"`
	SubscriberQueueFullPolicy string       `toml:"subscriber_queue_full_policy"`
	WaitSetCapacity         int            `toml:"wait_set_capacity"`
	MaxShmSize              int64          `toml:"max_shm_size"`
}

// Default returns a Config with conservative defaults, overridable by
// loading a file on top via Load.
func Default() Config {
	return Config{
		MempoolConfig:             []MempoolClass{{ChunkSize: 128, Count: 256}},
		SubscriberQueueCapacity:   16,
		SubscriberQueueFullPolicy: "DISCARD_OLDEST",
		WaitSetCapacity:           64,
		MaxShmSize:                1 << 30,
	}
}

// Load decodes a TOML configuration file at path on top of Default,
// so any field the file omits keeps its default value rather than
// zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Policy translates SubscriberQueueFullPolicy into a delivery.Policy.
func (c Config) Policy() (delivery.Policy, error) {
	switch c.SubscriberQueueFullPolicy {
	case "DISCARD_OLDEST":
		return delivery.DiscardOldest, nil
	case "REJECT_NEW":
		return delivery.RejectNew, nil
	default:
		return 0, fmt.Errorf("config: unknown subscriber_queue_full_policy %q", c.SubscriberQueueFullPolicy)
	}
}

// Validate checks the configuration is internally consistent before it's
// used to build mempools and queues.
func (c Config) Validate() error {
	if len(c.MempoolConfig) == 0 {
		return fmt.Errorf("config: mempool_config must have at least one size class")
	}
	for _, mc := range c.MempoolConfig {
		if mc.ChunkSize == 0 {
			return fmt.Errorf("config: chunk_size must be > 0")
		}
		if mc.Count < 0 {
			return fmt.Errorf("config: count must be >= 0")
		}
	}
	if c.SubscriberQueueCapacity < 2 {
		return fmt.Errorf("config: subscriber_queue_capacity must be >= 2")
	}
	if c.WaitSetCapacity < 2 {
		return fmt.Errorf("config: wait_set_capacity must be >= 2")
	}
	if c.MaxShmSize <= 0 {
		return fmt.Errorf("config: max_shm_size must be > 0")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}
