// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the validator process's settings: a plain
// struct, a Default() constructor, named presets, and a Valid()
// validator that collects every problem via wrappers.Errs rather than
// failing on the first one — the teacher's config.go idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/luxfi/platform-validator/utils/wrappers"
)

// Config is the process-wide settings read from flags and the
// environment variables named in spec §6.
type Config struct {
	// PlatformURL is the chain/platform RPC base (PLATFORM_URL).
	PlatformURL string
	// BlockSyncInterval is the Block Sync poll interval (BLOCK_SYNC_INTERVAL).
	BlockSyncInterval time.Duration
	// ChallengeID binds this process to one challenge instance (CHALLENGE_ID).
	ChallengeID string
	// ContainerBrokerWSURL is the validator broker WebSocket endpoint
	// (CONTAINER_BROKER_WS_URL). Valid requires ContainerBrokerJWT when
	// it is set; this process does not dial it.
	ContainerBrokerWSURL string
	// ContainerBrokerJWT is the HMAC secret the local wsbroker uses to
	// verify validators' bearer tokens on /ws/validator
	// (CONTAINER_BROKER_JWT).
	ContainerBrokerJWT string
	// ChutesAPIToken authenticates outbound LLM provider calls (CHUTES_API_TOKEN).
	ChutesAPIToken string
	// LLMProvider and LLMModel select the model backing agent evaluation.
	LLMProvider string
	LLMModel    string
	// SyntheticTasksEnabled and SyntheticTaskRatio are scheduler
	// toggles for synthetic (generated) tasks alongside the canonical
	// corpus (SYNTHETIC_*).
	SyntheticTasksEnabled bool
	SyntheticTaskRatio    float64

	// BindAddr is this process's own HTTP listen address.
	BindAddr string
	// LogLevel names the luxfi/log level (debug, info, warn, error).
	LogLevel string

	// EpochZeroStartBlock anchors the epoch calculator (spec §3). Not
	// part of the named spec §6 environment variables; supplemented
	// here since cmd/validator needs a concrete value to build one.
	EpochZeroStartBlock uint64
}

// Default returns a Config suitable for local experimentation: no
// remote endpoints configured, synthetic tasks off.
func Default() Config {
	return Config{
		BlockSyncInterval:   12 * time.Second,
		LLMProvider:         "chutes",
		BindAddr:            ":8080",
		LogLevel:            "info",
		EpochZeroStartBlock: 7_276_080,
	}
}

// Production is Default with LogLevel "warn"; Valid applies the same
// required-field checks to every preset, so callers still populate
// PlatformURL/ChallengeID/broker settings from the environment before
// calling Valid.
func Production() Config {
	c := Default()
	c.LogLevel = "warn"
	return c
}

// Development relaxes timing for a faster local feedback loop.
func Development() Config {
	c := Default()
	c.BlockSyncInterval = 3 * time.Second
	c.LogLevel = "debug"
	return c
}

// Local is an alias of Development kept for the teacher's
// Mainnet/Testnet/Local naming symmetry.
func Local() Config {
	return Development()
}

// Valid collects every configuration problem rather than stopping at
// the first (spec §7, "miners see all validator/whitelist errors
// up-front" — the same policy applies to operator misconfiguration).
func (c Config) Valid() error {
	var errs wrappers.Errs

	if c.PlatformURL == "" {
		errs.Add(fmt.Errorf("config: PLATFORM_URL is required"))
	}
	if c.ChallengeID == "" {
		errs.Add(fmt.Errorf("config: CHALLENGE_ID is required"))
	}
	if c.BlockSyncInterval <= 0 {
		errs.Add(fmt.Errorf("config: BLOCK_SYNC_INTERVAL must be positive, got %s", c.BlockSyncInterval))
	}
	if c.ContainerBrokerWSURL != "" && c.ContainerBrokerJWT == "" {
		errs.Add(fmt.Errorf("config: CONTAINER_BROKER_JWT is required when CONTAINER_BROKER_WS_URL is set"))
	}
	if c.SyntheticTasksEnabled && (c.SyntheticTaskRatio < 0 || c.SyntheticTaskRatio > 1) {
		errs.Add(fmt.Errorf("config: SYNTHETIC_TASK_RATIO must be in [0,1], got %v", c.SyntheticTaskRatio))
	}

	return errs.Err()
}

// FromEnv overlays the spec §6 environment variables onto base,
// leaving any variable that is unset untouched.
func FromEnv(base Config) (Config, error) {
	return FromLookup(base, os.LookupEnv)
}

// FromLookup overlays onto base whatever lookup reports as set, under
// the same key names FromEnv binds to os.LookupEnv. It exists so
// callers can layer additional sources (a config file, say) beneath
// the real environment without mutating process-global state.
func FromLookup(base Config, lookup func(key string) (string, bool)) (Config, error) {
	c := base

	if v, ok := lookup("PLATFORM_URL"); ok && v != "" {
		c.PlatformURL = v
	}
	if v, ok := lookup("BLOCK_SYNC_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing BLOCK_SYNC_INTERVAL: %w", err)
		}
		c.BlockSyncInterval = d
	}
	if v, ok := lookup("CHALLENGE_ID"); ok && v != "" {
		c.ChallengeID = v
	}
	if v, ok := lookup("CONTAINER_BROKER_WS_URL"); ok && v != "" {
		c.ContainerBrokerWSURL = v
	}
	if v, ok := lookup("CONTAINER_BROKER_JWT"); ok && v != "" {
		c.ContainerBrokerJWT = v
	}
	if v, ok := lookup("CHUTES_API_TOKEN"); ok && v != "" {
		c.ChutesAPIToken = v
	}
	if v, ok := lookup("LLM_PROVIDER"); ok && v != "" {
		c.LLMProvider = v
	}
	if v, ok := lookup("LLM_MODEL"); ok && v != "" {
		c.LLMModel = v
	}
	if v, ok := lookup("SYNTHETIC_TASKS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing SYNTHETIC_TASKS_ENABLED: %w", err)
		}
		c.SyntheticTasksEnabled = b
	}
	if v, ok := lookup("SYNTHETIC_TASK_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing SYNTHETIC_TASK_RATIO: %w", err)
		}
		c.SyntheticTaskRatio = f
	}
	if v, ok := lookup("EPOCH_ZERO_START_BLOCK"); ok && v != "" {
		b, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: parsing EPOCH_ZERO_START_BLOCK: %w", err)
		}
		c.EpochZeroStartBlock = b
	}

	return c, nil
}
