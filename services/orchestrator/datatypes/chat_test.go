// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// AgentChatRequest Validation Tests
// =============================================================================

func TestAgentChatRequest_Validate_Success(t *testing.T) {
	req := &AgentChatRequest{
		RequestID: "550e8400-e29b-41d4-a716-446655440000",
		Timestamp: time.Now().UnixMilli(),
		SessionID: "660f9500-f39c-42e5-b827-557766551111",
		Message:   "Hello",
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestAgentChatRequest_Validate_MinimalBody(t *testing.T) {
	// Clients may send only the message; ids and timestamp are filled in
	// by EnsureDefaults after validation.
	req := &AgentChatRequest{Message: "Hello"}

	if err := req.Validate(); err != nil {
		t.Errorf("expected message-only request to be valid, got error: %v", err)
	}
}

func TestAgentChatRequest_Validate_MissingMessage(t *testing.T) {
	req := &AgentChatRequest{
		RequestID: "550e8400-e29b-41d4-a716-446655440000",
		Timestamp: time.Now().UnixMilli(),
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for missing message, got nil")
	}
}

func TestAgentChatRequest_Validate_MessageTooLarge(t *testing.T) {
	// Create content that exceeds MaxMessageContentBytes (32KB)
	req := &AgentChatRequest{
		Message: strings.Repeat("x", MaxMessageContentBytes+1),
	}

	if err := req.Validate(); err == nil {
		t.Errorf("expected error for message > %d bytes, got nil", MaxMessageContentBytes)
	}
}

func TestAgentChatRequest_Validate_MessageExactlyMaxSize(t *testing.T) {
	req := &AgentChatRequest{
		Message: strings.Repeat("x", MaxMessageContentBytes),
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request with exactly %d byte message, got error: %v",
			MaxMessageContentBytes, err)
	}
}

func TestAgentChatRequest_Validate_InvalidSessionID(t *testing.T) {
	req := &AgentChatRequest{
		Message:   "Hello",
		SessionID: "not-a-uuid",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid session_id, got nil")
	}
}

func TestAgentChatRequest_Validate_InvalidRequestID(t *testing.T) {
	req := &AgentChatRequest{
		Message:   "Hello",
		RequestID: "not-a-uuid",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid request_id, got nil")
	}
}

func TestAgentChatRequest_Validate_NegativeTimestamp(t *testing.T) {
	req := &AgentChatRequest{
		Message:   "Hello",
		Timestamp: -1,
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for negative timestamp, got nil")
	}
}

// =============================================================================
// EnsureDefaults Tests
// =============================================================================

func TestAgentChatRequest_EnsureDefaults_GeneratesRequestID(t *testing.T) {
	req := &AgentChatRequest{Message: "Hello"}

	req.EnsureDefaults()

	if req.RequestID == "" {
		t.Error("expected EnsureDefaults to generate RequestID, got empty string")
	}
}

func TestAgentChatRequest_EnsureDefaults_GeneratesTimestamp(t *testing.T) {
	req := &AgentChatRequest{Message: "Hello"}

	before := time.Now().UnixMilli()
	req.EnsureDefaults()
	after := time.Now().UnixMilli()

	if req.Timestamp < before || req.Timestamp > after {
		t.Errorf("expected timestamp between %d and %d, got %d",
			before, after, req.Timestamp)
	}
}

func TestAgentChatRequest_EnsureDefaults_PreservesExistingValues(t *testing.T) {
	existingID := "550e8400-e29b-41d4-a716-446655440000"
	existingTimestamp := int64(1735817400000)

	req := &AgentChatRequest{
		RequestID: existingID,
		Timestamp: existingTimestamp,
		Message:   "Hello",
	}

	req.EnsureDefaults()

	if req.RequestID != existingID {
		t.Errorf("expected RequestID to be preserved as %s, got %s",
			existingID, req.RequestID)
	}
	if req.Timestamp != existingTimestamp {
		t.Errorf("expected Timestamp to be preserved as %d, got %d",
			existingTimestamp, req.Timestamp)
	}
}

// =============================================================================
// NewAgentChatResponse Tests
// =============================================================================

func TestNewAgentChatResponse_SetsResponseID(t *testing.T) {
	resp := NewAgentChatResponse("req-123", "sess-456", "Hello!")

	if resp.ResponseID == "" {
		t.Error("expected ResponseID to be set, got empty string")
	}
}

func TestNewAgentChatResponse_EchoesRequestAndSession(t *testing.T) {
	requestID := "550e8400-e29b-41d4-a716-446655440000"
	sessionID := "660f9500-f39c-42e5-b827-557766551111"
	resp := NewAgentChatResponse(requestID, sessionID, "Hello!")

	if resp.RequestID != requestID {
		t.Errorf("expected RequestID to be %s, got %s", requestID, resp.RequestID)
	}
	if resp.SessionID != sessionID {
		t.Errorf("expected SessionID to be %s, got %s", sessionID, resp.SessionID)
	}
}

func TestNewAgentChatResponse_SetsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	resp := NewAgentChatResponse("req-123", "sess-456", "Hello!")
	after := time.Now().UnixMilli()

	if resp.Timestamp < before || resp.Timestamp > after {
		t.Errorf("expected timestamp between %d and %d, got %d",
			before, after, resp.Timestamp)
	}
}

func TestNewAgentChatResponse_SetsAnswer(t *testing.T) {
	answer := "Hello! How can I help you today?"
	resp := NewAgentChatResponse("req-123", "sess-456", answer)

	if resp.Answer != answer {
		t.Errorf("expected Answer to be %q, got %q", answer, resp.Answer)
	}
}

// =============================================================================
// Constants Tests
// =============================================================================

func TestConstants(t *testing.T) {
	if MaxMessageContentBytes != 32*1024 {
		t.Errorf("expected MaxMessageContentBytes to be 32KB, got %d", MaxMessageContentBytes)
	}
	if MaxMessagesPerRequest != 100 {
		t.Errorf("expected MaxMessagesPerRequest to be 100, got %d", MaxMessagesPerRequest)
	}
}
