// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainclient is a minimal HTTP implementation of
// blocksync.NetworkStateFetcher against the platform's network-state
// endpoint (spec §1 names the chain RPC client an external
// collaborator specified only at its interface; this is that
// interface's default, swappable implementation for cmd/validator).
package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/platform-validator/blocksync"
)

// DefaultTimeout bounds a single network-state request.
const DefaultTimeout = 10 * time.Second

// networkStateResponse mirrors the platform's network-state payload,
// shaped like the teacher's api.Response envelope.
type networkStateResponse struct {
	BlockNumber uint64 `json:"block_number"`
	Tempo       uint64 `json:"tempo"`
}

// Client polls a platform base URL for network state over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL (the PLATFORM_URL setting).
// A nil httpClient defaults to one with DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// GetNetworkState implements blocksync.NetworkStateFetcher.
func (c *Client) GetNetworkState(ctx context.Context) (blocksync.NetworkState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/network-state", nil)
	if err != nil {
		return blocksync.NetworkState{}, fmt.Errorf("chainclient: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return blocksync.NetworkState{}, fmt.Errorf("chainclient: fetching network state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return blocksync.NetworkState{}, fmt.Errorf("chainclient: network state request returned %s", resp.Status)
	}

	var body networkStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return blocksync.NetworkState{}, fmt.Errorf("chainclient: decoding network state: %w", err)
	}

	return blocksync.NetworkState{BlockNumber: body.BlockNumber, Tempo: body.Tempo}, nil
}
