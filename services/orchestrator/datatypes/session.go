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

// This file contains request types for the chat session endpoints.
// Session and message row types live in the store package; handlers
// return them directly.

// =============================================================================
// Session Request Types
// =============================================================================

// CreateSessionRequest is the body for POST /v1/sessions.
//
// Title is optional; sessions start as "New Chat" and are retitled in
// the background once the conversation has enough messages.
type CreateSessionRequest struct {
	Title string `json:"title" validate:"omitempty,max=200"`
}

// Validate validates the CreateSessionRequest fields.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// UpdateSessionRequest is the body for PATCH /v1/sessions/:sessionId.
//
// All fields are optional; only non-nil fields are applied. This mirrors
// a JSON merge patch so clients can pin a session without knowing its
// current title.
type UpdateSessionRequest struct {
	Title    *string `json:"title" validate:"omitempty,max=200"`
	Pinned   *bool   `json:"pinned"`
	Archived *bool   `json:"archived"`
}

// Validate validates the UpdateSessionRequest fields.
func (r *UpdateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// IsEmpty reports whether the patch carries no changes.
func (r *UpdateSessionRequest) IsEmpty() bool {
	return r.Title == nil && r.Pinned == nil && r.Archived == nil
}
