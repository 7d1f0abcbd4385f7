// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wsbroker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/platform-validator/blocksync"
	"github.com/luxfi/platform-validator/internal/platformlog"
)

var testSecret = []byte("test-broker-secret")

func signToken(t *testing.T, validatorID string, expiresAt time.Time) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ValidatorID: validatorID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func dialWS(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	return conn
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSRejectsExpiredToken(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	token := signToken(t, "validator-1", time.Now().Add(-time.Hour))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyBinaryReadyDeliversToConnectedValidator(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	token := signToken(t, "validator-1", time.Now().Add(time.Hour))
	conn := dialWS(t, server, token)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(b.ConnectedValidators()) == 1
	}, time.Second, 10*time.Millisecond)

	err := b.NotifyBinaryReady(t.Context(), "validator-1", "agent-hash-1")
	require.NoError(t, err)

	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "binary_ready", msg.Type)
	require.Equal(t, "agent-hash-1", msg.AgentHash)
	require.Equal(t, []string{"validator-1"}, msg.Validators)
}

func TestNotifyBinaryReadyErrorsWhenNotConnected(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	err := b.NotifyBinaryReady(t.Context(), "validator-ghost", "agent-1")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestBroadcastNewBlockReachesAllConnections(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	conn1 := dialWS(t, server, signToken(t, "validator-1", time.Now().Add(time.Hour)))
	defer conn1.Close()
	conn2 := dialWS(t, server, signToken(t, "validator-2", time.Now().Add(time.Hour)))
	defer conn2.Close()

	require.Eventually(t, func() bool {
		return len(b.ConnectedValidators()) == 2
	}, time.Second, 10*time.Millisecond)

	tempo := uint64(360)
	b.BroadcastNewBlock(42, &tempo)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "new_block", msg.Type)
		require.Equal(t, uint64(42), msg.BlockNumber)
		require.NotNil(t, msg.Tempo)
		require.Equal(t, uint64(360), *msg.Tempo)
	}
}

func TestRunTranslatesBlocksyncEvents(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	conn := dialWS(t, server, signToken(t, "validator-1", time.Now().Add(time.Hour)))
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(b.ConnectedValidators()) == 1
	}, time.Second, 10*time.Millisecond)

	events := make(chan blocksync.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, events)

	events <- blocksync.Event{Kind: blocksync.NewBlock, Block: 100, Tempo: 360}

	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "new_block", msg.Type)
	require.Equal(t, uint64(100), msg.BlockNumber)
	require.Equal(t, uint64(360), *msg.Tempo)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	b := NewBroker(testSecret, platformlog.NewNoOpLogger())
	server := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer server.Close()

	conn := dialWS(t, server, signToken(t, "validator-1", time.Now().Add(time.Hour)))
	require.Eventually(t, func() bool {
		return len(b.ConnectedValidators()) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return len(b.ConnectedValidators()) == 0
	}, time.Second, 10*time.Millisecond)
}
