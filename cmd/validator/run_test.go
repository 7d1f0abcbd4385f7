// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PLATFORM_URL", "https://from-env.example")
	t.Setenv("CHALLENGE_ID", "chal-env")

	cfg, err := loadConfig("", "https://from-flag.example", ":9090", "debug")
	require.NoError(t, err)
	require.Equal(t, "https://from-flag.example", cfg.PlatformURL)
	require.Equal(t, "chal-env", cfg.ChallengeID)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsMissingRequiredFields(t *testing.T) {
	_, err := loadConfig("", "", "", "")
	require.Error(t, err)
}

func TestLoadConfigOverlaysFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "validator.env")
	writeFile(t, path, "PLATFORM_URL=https://from-file.example\nCHALLENGE_ID=chal-file\n")

	cfg, err := loadConfig(path, "", "", "")
	require.NoError(t, err)
	require.Equal(t, "https://from-file.example", cfg.PlatformURL)
	require.Equal(t, "chal-file", cfg.ChallengeID)
}

func TestLoadConfigFileDoesNotOverrideExplicitEnvironment(t *testing.T) {
	t.Setenv("CHALLENGE_ID", "chal-env-wins")

	dir := t.TempDir()
	path := filepath.Join(dir, "validator.env")
	writeFile(t, path, "PLATFORM_URL=https://from-file.example\nCHALLENGE_ID=chal-file\n")

	cfg, err := loadConfig(path, "", "", "")
	require.NoError(t, err)
	require.Equal(t, "chal-env-wins", cfg.ChallengeID)
}

func TestDefaultWhitelistPolicyAllowsSeededStdlib(t *testing.T) {
	p := defaultWhitelistPolicy().Policy()
	require.True(t, p.AllowedStdlib.Contains("json"))
	require.True(t, p.Forbidden.Contains("os"))
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}
