// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/luxfi/platform-validator/aggregator"
	"github.com/luxfi/platform-validator/internal/platformlog"
	"github.com/luxfi/platform-validator/platformauth"
	"github.com/luxfi/platform-validator/progress"
	"github.com/luxfi/platform-validator/scoring"
	"github.com/luxfi/platform-validator/stake"
	"github.com/luxfi/platform-validator/submission"
	"github.com/luxfi/platform-validator/whitelist"
)

// MockAgentDirectory is a mock of the AgentDirectory interface,
// hand-maintained in the mockgen-generated shape (see
// prysmaticlabs-prysm's MockHealthClient for the convention this
// follows).
type MockAgentDirectory struct {
	ctrl     *gomock.Controller
	recorder *MockAgentDirectoryMockRecorder
}

// MockAgentDirectoryMockRecorder is the mock recorder for MockAgentDirectory.
type MockAgentDirectoryMockRecorder struct {
	mock *MockAgentDirectory
}

// NewMockAgentDirectory creates a new mock instance.
func NewMockAgentDirectory(ctrl *gomock.Controller) *MockAgentDirectory {
	mock := &MockAgentDirectory{ctrl: ctrl}
	mock.recorder = &MockAgentDirectoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAgentDirectory) EXPECT() *MockAgentDirectoryMockRecorder {
	return m.recorder
}

// Agent mocks base method.
func (m *MockAgentDirectory) Agent(agentHash string) (AgentRecord, bool) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Agent", agentHash)
	ret0, _ := ret[0].(AgentRecord)
	ret1, _ := ret[1].(bool)
	return ret0, ret1
}

// Agent indicates an expected call of Agent.
func (mr *MockAgentDirectoryMockRecorder) Agent(agentHash any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Agent", reflect.TypeOf((*MockAgentDirectory)(nil).Agent), agentHash)
}

// AgentsByStatus mocks base method.
func (m *MockAgentDirectory) AgentsByStatus(status string) []AgentRecord {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AgentsByStatus", status)
	ret0, _ := ret[0].([]AgentRecord)
	return ret0
}

// AgentsByStatus indicates an expected call of AgentsByStatus.
func (mr *MockAgentDirectoryMockRecorder) AgentsByStatus(status any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AgentsByStatus", reflect.TypeOf((*MockAgentDirectory)(nil).AgentsByStatus), status)
}

// AgentsByMiner mocks base method.
func (m *MockAgentDirectory) AgentsByMiner(hotkey string) []AgentRecord {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AgentsByMiner", hotkey)
	ret0, _ := ret[0].([]AgentRecord)
	return ret0
}

// AgentsByMiner indicates an expected call of AgentsByMiner.
func (mr *MockAgentDirectoryMockRecorder) AgentsByMiner(hotkey any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AgentsByMiner", reflect.TypeOf((*MockAgentDirectory)(nil).AgentsByMiner), hotkey)
}

var _ AgentDirectory = (*MockAgentDirectory)(nil)

// TestHandleAgentUsesMockedDirectory exercises the GET /agent/{hash}
// route against a gomock-recorded AgentDirectory expectation, rather
// than the shared fakeAgents test double, to pin down the exact
// collaborator calls the handler makes.
func TestHandleAgentUsesMockedDirectory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agents := NewMockAgentDirectory(ctrl)
	agents.EXPECT().Agent("deadbeef").Return(AgentRecord{Hash: "deadbeef", Status: "completed"}, true)

	deps := Deps{
		Auth:            platformauth.NewVerifierWithSignatureVerifier("chal-1", alwaysValidVerifier{}),
		Submissions:     submission.NewManager(time.Hour),
		Stake:           stake.NewRegistry(),
		WhitelistPolicy: whitelist.Policy{},
		Agents:          agents,
		Progress:        progress.New(time.Minute),
		Leaderboard:     scoring.NewLeaderboard(10),
		Consensus:       aggregator.New(2),
		Log:             platformlog.NewNoOpLogger(),
		Now:             func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	s := NewServer(deps)

	rec := doRequest(t, s, http.MethodGet, "/agent/deadbeef", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
