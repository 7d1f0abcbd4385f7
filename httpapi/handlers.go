// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/luxfi/platform-validator/aggregator"
	"github.com/luxfi/platform-validator/api/health"
	"github.com/luxfi/platform-validator/pkgvalidator"
	"github.com/luxfi/platform-validator/platformauth"
	"github.com/luxfi/platform-validator/progress"
	"github.com/luxfi/platform-validator/submitcrypto"
	"github.com/luxfi/platform-validator/utils/formatting"
	"github.com/luxfi/platform-validator/whitelist"
)

var errMalformedRequest = errors.New("malformed request body")

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errMalformedRequest
	}
	return nil
}

// hexEncode renders b as unprefixed hex for wire responses, via
// utils/formatting (the package this module already names for exactly
// this purpose) rather than calling encoding/hex directly.
func hexEncode(b []byte) string {
	s, _ := formatting.Encode(formatting.HexNC, b)
	return s
}

func hexTo32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := formatting.Decode(formatting.HexNC, s)
	if err != nil || len(b) != 32 {
		return out, errors.New("expected 32 bytes hex-encoded")
	}
	copy(out[:], b)
	return out, nil
}

func hexTo64(s string) ([64]byte, error) {
	var out [64]byte
	b, err := formatting.Decode(formatting.HexNC, s)
	if err != nil || len(b) != 64 {
		return out, errors.New("expected 64 bytes hex-encoded")
	}
	copy(out[:], b)
	return out, nil
}

func hexTo16(s string) ([16]byte, error) {
	var out [16]byte
	b, err := formatting.Decode(formatting.HexNC, s)
	if err != nil || len(b) != 16 {
		return out, errors.New("expected 16 bytes hex-encoded")
	}
	copy(out[:], b)
	return out, nil
}

// POST /auth
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req AuthRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pub, err := hexTo32(req.PublicKey)
	if err != nil {
		writeJSON(w, http.StatusOK, AuthResponseDTO{Success: false, Error: "invalid public_key_hex"})
		return
	}
	nonce, err := hexTo16(req.Nonce)
	if err != nil {
		writeJSON(w, http.StatusOK, AuthResponseDTO{Success: false, Error: "invalid nonce_hex"})
		return
	}
	sig, err := hexTo64(req.Signature)
	if err != nil {
		writeJSON(w, http.StatusOK, AuthResponseDTO{Success: false, Error: "invalid signature_hex"})
		return
	}

	session, err := s.deps.Auth.Handshake(platformauth.AuthRequest{
		Hotkey:      req.Hotkey,
		PublicKey:   pub,
		ChallengeID: req.ChallengeID,
		Timestamp:   time.Unix(req.Timestamp, 0),
		Nonce:       nonce,
		Signature:   sig,
	}, s.deps.Now())
	if err != nil {
		writeJSON(w, http.StatusOK, AuthResponseDTO{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, AuthResponseDTO{
		Success:      true,
		SessionToken: hexEncode(session.Token[:]),
		ExpiresAt:    session.ExpiresAt.Unix(),
	})
}

// POST /submit applies the whitelist static check to the submitted
// source and, on success, returns the source's content hash as
// agent_hash with status "accepted". Nothing is registered with the
// submission manager here: the multi-validator commit-reveal
// ack/reveal steps are internal gossip, not part of this public wire
// surface (spec §6 lists only /submit here).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.ArchiveKind != "" {
		s.handleSubmitArchive(w, req)
		return
	}

	check := whitelist.Check(s.deps.WhitelistPolicy, req.SourceCode)
	if err := check.Err(); err != nil {
		writeJSON(w, http.StatusOK, SubmitResponseDTO{Success: false, Error: err.Error()})
		return
	}

	contentHash := submitcrypto.ContentHash([]byte(req.SourceCode))
	writeJSON(w, http.StatusOK, SubmitResponseDTO{
		Success:   true,
		AgentHash: hexEncode(contentHash[:]),
		Status:    "accepted",
	})
}

// handleSubmitArchive validates a full agent package (spec §4.4)
// through pkgvalidator instead of checking a bare source string.
func (s *Server) handleSubmitArchive(w http.ResponseWriter, req SubmitRequestDTO) {
	result := pkgvalidator.Validate(req.ArchiveKind, req.ArchiveData, req.EntryPoint, pkgvalidator.Limits{}, s.deps.WhitelistPolicy)
	if !result.Valid {
		writeJSON(w, http.StatusOK, SubmitResponseDTO{Success: false, Error: strings.Join(result.Errors, "; ")})
		return
	}

	contentHash := submitcrypto.ContentHash(req.ArchiveData)
	writeJSON(w, http.StatusOK, SubmitResponseDTO{
		Success:   true,
		AgentHash: hexEncode(contentHash[:]),
		Status:    "accepted",
	})
}

// GET /can_submit
func (s *Server) handleCanSubmit(w http.ResponseWriter, r *http.Request) {
	hotkey := r.URL.Query().Get("miner_hotkey")
	if s.deps.Submissions.IsBanned(hotkey, "") {
		writeJSON(w, http.StatusOK, SubmissionAllowance{Allowed: false, Reason: "miner is banned"})
		return
	}
	writeJSON(w, http.StatusOK, SubmissionAllowance{Allowed: true})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["agent_hash"]
	rec, ok := s.deps.Agents.Agent(hash)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown agent"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": rec.Status})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["agent_hash"]
	rec, ok := s.deps.Agents.Agent(hash)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown agent"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAgentsPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agents.AgentsByStatus("pending"))
}

func (s *Server) handleAgentsActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agents.AgentsByStatus("active"))
}

func (s *Server) handleAgentsByMiner(w http.ResponseWriter, r *http.Request) {
	hotkey := mux.Vars(r)["hotkey"]
	writeJSON(w, http.StatusOK, s.deps.Agents.AgentsByMiner(hotkey))
}

// POST /consensus/sign is not served by the challenge container: spec
// §4.7 states the challenge never signs. Signing is a validator
// wallet concern outside this node's key custody.
func (s *Server) handleConsensusSign(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, errors.New("this node does not hold signing keys"))
}

func (s *Server) handleConsensusSource(w http.ResponseWriter, r *http.Request) {
	hash, err := hexTo32(mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, ok := s.deps.Submissions.Verified(submitcrypto.Hash(hash))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("submission not yet revealed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source_code": string(v.Plaintext)})
}

func (s *Server) handleConsensusObfuscated(w http.ResponseWriter, r *http.Request) {
	hash, err := hexTo32(mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, ok := s.deps.Submissions.PendingEncrypted(submitcrypto.Hash(hash))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown or already-revealed submission"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted_data_hex": hexEncode(p.EncryptedData)})
}

func (s *Server) handleConsensusVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifySignatureRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pub, err := hexTo32(req.PublicKey)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}
	sig, err := hexTo64(req.Signature)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
		return
	}
	valid := platformauth.VerifySignature(pub, sig, []byte(req.Message))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func toProgressDTO(u progress.Update) ProgressUpdateDTO {
	return ProgressUpdateDTO{
		EvaluationID:    u.EvaluationID,
		AgentHash:       u.AgentHash,
		ValidatorHotkey: u.ValidatorHotkey,
		Status:          string(u.Status),
		TasksCompleted:  u.TasksCompleted,
		TasksTotal:      u.TasksTotal,
		Message:         u.Message,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (s *Server) handleProgressByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	updates, ok := s.deps.Progress.ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown evaluation id"))
		return
	}
	out := make([]ProgressUpdateDTO, len(updates))
	for i, u := range updates {
		out[i] = toProgressDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgressByAgent(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	updates := s.deps.Progress.ListByAgent(hash)
	out := make([]ProgressUpdateDTO, len(updates))
	for i, u := range updates {
		out[i] = toProgressDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgressLatestForAgent(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	u, ok := s.deps.Progress.LatestForAgent(hash)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no progress recorded for agent"))
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(u))
}

func (s *Server) handleProgressByValidator(w http.ResponseWriter, r *http.Request) {
	hotkey := mux.Vars(r)["hotkey"]
	updates := s.deps.Progress.ListByValidator(hotkey)
	out := make([]ProgressUpdateDTO, len(updates))
	for i, u := range updates {
		out[i] = toProgressDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgressRunning(w http.ResponseWriter, r *http.Request) {
	updates := s.deps.Progress.ListRunning()
	out := make([]ProgressUpdateDTO, len(updates))
	for i, u := range updates {
		out[i] = toProgressDTO(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChainResult(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	result := s.deps.Consensus.Result(hash)
	writeJSON(w, http.StatusOK, toConsensusDTO(result))
}

func (s *Server) handleChainConsensus(w http.ResponseWriter, r *http.Request) {
	s.handleChainResult(w, r)
}

func (s *Server) handleChainVotes(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	writeJSON(w, http.StatusOK, map[string]int{"evaluation_count": s.deps.Consensus.EvaluationCount(hash)})
}

func (s *Server) handleChainLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Leaderboard.All()
	out := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = LeaderboardEntryDTO{
			AgentHash:       e.AgentHash,
			NormalizedScore: e.Score.NormalizedScore,
			Rank:            i + 1,
			EvaluatedAt:     e.EvaluatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func toConsensusDTO(c aggregator.ConsensusResult) ConsensusResultDTO {
	return ConsensusResultDTO{
		AgentHash: c.AgentHash,
		Mean:      c.Stats.Mean,
		Min:       c.Stats.Min,
		Max:       c.Stats.Max,
		StdDev:    c.Stats.StdDev,
		Count:     c.Stats.Count,
		Reached:   c.Reached,
	}
}

func (s *Server) handleConfigWhitelistModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WhitelistConfigDTO{AllowedModules: s.deps.Config.WhitelistModules})
}

func (s *Server) handleConfigWhitelistModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WhitelistConfigDTO{AllowedModels: s.deps.Config.WhitelistModels})
}

func (s *Server) handleConfigPricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PricingConfigDTO{Pricing: s.deps.Config.Pricing})
}

// handleHealthz reports this node's operational health. A nil
// Deps.Health reports an unconditional healthy Report, since the
// process serving this route is itself evidence of liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, health.Report{Healthy: true})
		return
	}

	start := s.deps.Now()
	result, err := s.deps.Health.HealthCheck(r.Context())
	report := health.Report{Duration: s.deps.Now().Sub(start)}

	if err != nil {
		report.Healthy = false
		report.Details = map[string]interface{}{"error": err.Error()}
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}

	report.Healthy = true
	report.Details = map[string]interface{}{"result": result}
	writeJSON(w, http.StatusOK, report)
}
