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

// This file contains request and response types for the auth endpoints.
// Validation uses the shared chatValidate instance from chat.go.

// =============================================================================
// Auth Request Types
// =============================================================================

// RegisterRequest is the body for POST /v1/auth/register.
//
// Passwords are limited to 72 bytes because bcrypt silently truncates
// longer inputs.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

// Validate validates the RegisterRequest fields.
func (r *RegisterRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Validate validates the LoginRequest fields.
func (r *LoginRequest) Validate() error {
	return chatValidate.Struct(r)
}

// RefreshRequest is the body for POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Validate validates the RefreshRequest fields.
func (r *RefreshRequest) Validate() error {
	return chatValidate.Struct(r)
}

// LogoutRequest is the body for POST /v1/auth/logout. The refresh token
// names the grant to revoke; without it every grant belonging to the
// caller is revoked.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// =============================================================================
// Auth Response Types
// =============================================================================

// TokenPairResponse carries a freshly issued access/refresh token pair.
//
// ExpiresIn is the access token lifetime in seconds. The refresh token
// is single-use; presenting it rotates the pair and revokes the old one.
type TokenPairResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	User         *UserInfo `json:"user,omitempty"`
}

// UserInfo is the public view of a user account.
type UserInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
