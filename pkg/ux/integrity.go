// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Agora CLI.
//
// This file defines integrity verification for the debate event hash
// chain. Each event's Hash is computed from its content and PrevHash
// links to the previous event:
//
//	Event[0] → Event[1] → Event[2] → ... → Event[N]
//	  Hash₀     Hash₁     Hash₂           HashN
//
// If any event on the wire is modified, dropped, or reordered, its hash
// or link no longer matches and the chain breaks at that index.
package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// secureHashEqual performs constant-time comparison of two hash strings.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// truncateHash shortens a hash for display in error messages.
func truncateHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "..."
}

// ChainVerificationResult reports the outcome of verifying one stream.
type ChainVerificationResult struct {
	Valid       bool   `json:"valid"`
	ChainLength int    `json:"chain_length"`
	FinalHash   string `json:"final_hash,omitempty"`

	// InvalidEventIndex is -1 when the chain is valid.
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// ComputeEventHash recomputes the server's hash for one event: SHA-256
// over the pipe-joined identity and content fields. The field order must
// match the orchestrator's stream writer exactly.
func ComputeEventHash(event DebateEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.Seq,
		event.CreatedAt,
		event.PrevHash,
		event.SessionId,
		event.TurnId,
		event.Agent,
		event.Round,
		event.Text,
		event.Reason,
		event.TurnStatus,
		string(event.Scores),
		string(event.Verdict),
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain fully verifies a received event chain by recomputing every
// hash and checking every PrevHash link.
//
// # Assumptions
//
//   - Events are in arrival order
//   - First event has empty PrevHash
func VerifyChain(events []DebateEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
	}
	if len(events) == 0 {
		return result
	}

	prevHash := ""
	for i, event := range events {
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected PrevHash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash))
			return result
		}

		computed := ComputeEventHash(event)
		if !secureHashEqual(computed, event.Hash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computed
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s (content may have been modified)",
				i, truncateHash(computed), truncateHash(event.Hash))
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = events[len(events)-1].Hash
	return result
}
