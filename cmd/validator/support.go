// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luxfi/platform-validator/utils/set"
	"github.com/luxfi/platform-validator/whitelist"
)

// syncerHealthChecker reports block-sync connectivity as this node's
// operational health, implementing api/health.Checker.
type syncerHealthChecker struct {
	connected func() bool
}

func (c syncerHealthChecker) HealthCheck(ctx context.Context) (interface{}, error) {
	if !c.connected() {
		return nil, errors.New("block sync disconnected from chain")
	}
	return map[string]string{"block_sync": "connected"}, nil
}

// whitelistPolicyBuilder is the standalone default whitelist.Policy
// builder; see defaultWhitelistPolicy.
type whitelistPolicyBuilder struct {
	stdlib    set.Set[string]
	forbidden set.Set[string]
}

func (b whitelistPolicyBuilder) Policy() whitelist.Policy {
	return whitelist.Policy{
		AllowedStdlib: b.stdlib,
		Forbidden:     b.forbidden,
	}
}

// loadEnvFile parses a simple KEY=VALUE file, one assignment per
// line, blank lines and "#"-prefixed comments ignored. It does not
// apply the values itself; callers overlay them onto the environment.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q: expected KEY=VALUE", line)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
