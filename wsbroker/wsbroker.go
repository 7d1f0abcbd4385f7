// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wsbroker is the platform WebSocket broker channel (spec §6,
// "WebSocket (validator broker channel)"): validators connect bearing
// a CONTAINER_BROKER_JWT, and the broker fans out `binary_ready` and
// `new_block` messages to them. It implements compileworker.Notifier
// and can be driven directly off a blocksync.Syncer's event channel.
package wsbroker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/luxfi/log"
	"github.com/luxfi/platform-validator/blocksync"
)

var (
	ErrMissingToken     = errors.New("wsbroker: missing bearer token")
	ErrInvalidToken     = errors.New("wsbroker: invalid or expired token")
	ErrNotConnected     = errors.New("wsbroker: validator has no open connection")
	errBadSigningMethod = errors.New("wsbroker: unexpected JWT signing method")
)

// writeTimeout bounds how long a single fan-out write may block.
const writeTimeout = 5 * time.Second

// Claims is the CONTAINER_BROKER_JWT payload. The broker only trusts
// ValidatorID; everything else is the usual registered-claims set
// (exp, iat, ...).
type Claims struct {
	jwt.RegisteredClaims
	ValidatorID string `json:"validator_id"`
}

// message is the wire envelope for both outbound event kinds (spec
// §6): {"type": "binary_ready", ...} or {"type": "new_block", ...}.
type message struct {
	Type        string   `json:"type"`
	AgentHash   string   `json:"agent_hash,omitempty"`
	Validators  []string `json:"validators,omitempty"`
	BlockNumber uint64   `json:"block_number,omitempty"`
	Tempo       *uint64  `json:"tempo,omitempty"`
}

type conn struct {
	validatorID string
	ws          *websocket.Conn
	writeMu     sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Broker holds the set of live validator connections, keyed by
// validator hotkey. A validator may hold more than one open
// connection (e.g. across process restarts mid-handshake); every
// send fans out to all of them.
type Broker struct {
	secret   []byte
	upgrader websocket.Upgrader
	log      log.Logger

	mu    sync.RWMutex
	conns map[string][]*conn
}

// NewBroker constructs a Broker that verifies incoming tokens with
// the HMAC secret (the validator's CONTAINER_BROKER_JWT signing key).
func NewBroker(secret []byte, logger log.Logger) *Broker {
	return &Broker{
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   logger,
		conns: make(map[string][]*conn),
	}
}

func (b *Broker) authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadSigningMethod
		}
		return b.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.ValidatorID == "" {
		return "", ErrInvalidToken
	}
	return claims.ValidatorID, nil
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// ServeWS upgrades an authenticated request to a WebSocket and
// registers it under the token's validator id. It is an
// http.HandlerFunc; cmd/validator mounts it at /ws/validator.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	validatorID, err := b.authenticate(bearerToken(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("wsbroker: upgrade failed", "validator", validatorID, "err", err)
		return
	}

	c := &conn{validatorID: validatorID, ws: ws}
	b.register(c)
	go b.readPump(c)
}

func (b *Broker) register(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.validatorID] = append(b.conns[c.validatorID], c)
}

func (b *Broker) unregister(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := b.conns[c.validatorID]
	for i, p := range peers {
		if p == c {
			b.conns[c.validatorID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(b.conns[c.validatorID]) == 0 {
		delete(b.conns, c.validatorID)
	}
}

// readPump drains and discards inbound frames; its only job is to
// detect the peer closing so the connection can be deregistered. The
// broker is fan-out only, validators do not send structured requests
// over this channel.
func (b *Broker) readPump(c *conn) {
	defer func() {
		b.unregister(c)
		_ = c.ws.Close()
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// NotifyBinaryReady implements compileworker.Notifier, sending a
// binary_ready message to every open connection for validatorID.
func (b *Broker) NotifyBinaryReady(ctx context.Context, validatorID, agentID string) error {
	return b.send(validatorID, message{
		Type:       "binary_ready",
		AgentHash:  agentID,
		Validators: []string{validatorID},
	})
}

func (b *Broker) send(validatorID string, msg message) error {
	b.mu.RLock()
	peers := append([]*conn(nil), b.conns[validatorID]...)
	b.mu.RUnlock()

	if len(peers) == 0 {
		return ErrNotConnected
	}

	var firstErr error
	for _, c := range peers {
		if err := c.writeJSON(msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BroadcastNewBlock fans a new_block message out to every connected
// validator, regardless of subscription.
func (b *Broker) BroadcastNewBlock(blockNumber uint64, tempo *uint64) {
	b.mu.RLock()
	var peers []*conn
	for _, cs := range b.conns {
		peers = append(peers, cs...)
	}
	b.mu.RUnlock()

	msg := message{Type: "new_block", BlockNumber: blockNumber, Tempo: tempo}
	for _, c := range peers {
		if err := c.writeJSON(msg); err != nil {
			b.log.Warn("wsbroker: new_block delivery failed", "validator", c.validatorID, "err", err)
		}
	}
}

// Run drives BroadcastNewBlock off a blocksync.Syncer's event
// channel, translating NewBlock events into wire messages until ctx
// is cancelled or events closes.
func (b *Broker) Run(ctx context.Context, events <-chan blocksync.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != blocksync.NewBlock {
				continue
			}
			var tempo *uint64
			if ev.Tempo != 0 {
				t := ev.Tempo
				tempo = &t
			}
			b.BroadcastNewBlock(ev.Block, tempo)
		}
	}
}

// ConnectedValidators returns the hotkeys with at least one open
// connection, for diagnostics.
func (b *Broker) ConnectedValidators() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.conns))
	for id := range b.conns {
		out = append(out, id)
	}
	return out
}

// Close drops every open connection, e.g. on server shutdown.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, peers := range b.conns {
		for _, c := range peers {
			_ = c.ws.Close()
		}
	}
	b.conns = make(map[string][]*conn)
}
