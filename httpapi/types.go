// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import "time"

// errorResponse is the JSON body for every non-2xx response (spec §6,
// "Errors are HTTP status + JSON body {success:false, error}").
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// AuthRequestDTO is the wire shape of POST /auth.
type AuthRequestDTO struct {
	Hotkey      string `json:"hotkey"`
	PublicKey   string `json:"public_key_hex"`
	ChallengeID string `json:"challenge_id"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce_hex"`
	Signature   string `json:"signature_hex"`
}

// AuthResponseDTO is the wire shape of POST /auth's result.
type AuthResponseDTO struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SubmitRequestDTO is the wire shape of POST /submit. ArchiveKind,
// ArchiveData and EntryPoint are a [SUPPLEMENT] to spec §6's wire
// contract: when ArchiveKind is set, the body carries a full agent
// package (spec §4.4) instead of a bare source string, and is routed
// through pkgvalidator instead of a single whitelist.Check call.
type SubmitRequestDTO struct {
	SourceCode   string `json:"source_code"`
	MinerHotkey  string `json:"miner_hotkey"`
	SignatureHex string `json:"signature_hex"`
	Stake        uint64 `json:"stake"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`

	ArchiveKind string `json:"archive_kind,omitempty"` // "zip" or "tar.gz"
	ArchiveData []byte `json:"archive_data,omitempty"` // base64 in JSON
	EntryPoint  string `json:"entry_point,omitempty"`
}

// SubmitResponseDTO is the wire shape of POST /submit's result.
type SubmitResponseDTO struct {
	Success   bool   `json:"success"`
	AgentHash string `json:"agent_hash,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SubmissionAllowance is the response of GET /can_submit.
type SubmissionAllowance struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// AgentRecord is the minimal externally-tracked agent shape this API
// surfaces. AgentDirectory is the external collaborator that owns the
// full agent record; this package only depends on this narrow view.
type AgentRecord struct {
	Hash        string    `json:"agent_hash"`
	MinerHotkey string    `json:"miner_hotkey"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProgressUpdateDTO mirrors progress.Update for wire responses.
type ProgressUpdateDTO struct {
	EvaluationID    string    `json:"evaluation_id"`
	AgentHash       string    `json:"agent_hash"`
	ValidatorHotkey string    `json:"validator_hotkey"`
	Status          string    `json:"status"`
	TasksCompleted  int       `json:"tasks_completed"`
	TasksTotal      int       `json:"tasks_total"`
	Message         string    `json:"message,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LeaderboardEntryDTO mirrors scoring.LeaderboardEntry for wire responses.
type LeaderboardEntryDTO struct {
	AgentHash       string    `json:"agent_hash"`
	NormalizedScore float64   `json:"normalized_score"`
	Rank            int       `json:"rank"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// ConsensusResultDTO mirrors aggregator.ConsensusResult for wire responses.
type ConsensusResultDTO struct {
	AgentHash string  `json:"agent_hash"`
	Mean      float64 `json:"mean"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	StdDev    float64 `json:"std_dev"`
	Count     int     `json:"evaluation_count"`
	Reached   bool    `json:"reached"`
}

// VerifySignatureRequestDTO is the wire shape of POST /consensus/verify.
type VerifySignatureRequestDTO struct {
	PublicKey string `json:"public_key_hex"`
	Signature string `json:"signature_hex"`
	Message   string `json:"message"`
}

// WhitelistConfigDTO is the response of GET /config/whitelist/modules
// and GET /config/whitelist/models.
type WhitelistConfigDTO struct {
	AllowedModules []string `json:"allowed_modules,omitempty"`
	AllowedModels  []string `json:"allowed_models,omitempty"`
}

// PricingConfigDTO is the response of GET /config/pricing.
type PricingConfigDTO struct {
	Pricing map[string]float64 `json:"pricing"`
}
