// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package platformerr classifies failures by kind rather than by Go
// type (spec §7), so callers across the module — host functions,
// submission handling, state snapshots, RPC handlers — can make the
// same retry/terminal/fatal decision without depending on each
// other's concrete error types.
package platformerr

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error categories from spec §7.
type Kind int

const (
	// Validation covers malformed archives, forbidden modules, and
	// oversized payloads. Non-retriable; callers should report every
	// offending item, not just the first.
	Validation Kind = iota
	// Policy covers namespace/quota/path denials returned to the
	// guest. Retriable once the policy's quota window resets.
	Policy
	// Crypto covers signature, key-hash, and content-hash mismatches,
	// and duplicate-content rejection. Terminal for the submission
	// hash it names.
	Crypto
	// Resource covers memory/buffer/fuel/timeout exhaustion inside
	// the WASM runtime. BufferTooSmall is recoverable with a larger
	// buffer; fuel exhaustion is terminal for that call.
	Resource
	// Transient covers chain RPC, LLM provider, and WebSocket
	// failures. Retried with exponential backoff by the caller.
	Transient
	// Corruption covers a snapshot checksum mismatch. Fatal for the
	// affected snapshot only; other snapshots remain usable.
	Corruption
	// Internal covers an unexpected invariant breach. Logged at error
	// level; callers should attempt best-effort continuation.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Policy:
		return "policy"
	case Crypto:
		return "crypto"
	case Resource:
		return "resource"
	case Transient:
		return "transient"
	case Corruption:
		return "corruption"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified failure. It wraps an optional cause and, for
// Validation errors, the full set of offending items rather than
// just the first.
type Error struct {
	Kind    Kind
	Message string
	Items   []string
	cause   error
}

func (e *Error) Error() string {
	if len(e.Items) > 0 {
		return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Items)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithItems builds a Validation-style error carrying every offending
// item, so the caller can report all of them at once (spec §7,
// "miners see all validator/whitelist errors up-front").
func WithItems(kind Kind, message string, items []string) *Error {
	return &Error{Kind: kind, Message: message, Items: items}
}

// As reports whether err (or any error it wraps) is a *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, and
// Internal otherwise — an unclassified error is itself an invariant
// breach worth logging as one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Retriable reports whether a caller should retry the operation that
// produced err, per the propagation policy in spec §7: Policy errors
// are retriable once quotas reset, Transient errors are retried with
// backoff by the caller, everything else is not.
func Retriable(err error) bool {
	switch KindOf(err) {
	case Policy, Transient:
		return true
	default:
		return false
	}
}

// Terminal reports whether err permanently fails the unit of work it
// is scoped to (a submission hash, a WASM call, a snapshot) rather
// than being recoverable within the same call.
func Terminal(err error) bool {
	switch KindOf(err) {
	case Crypto, Corruption:
		return true
	default:
		return false
	}
}
