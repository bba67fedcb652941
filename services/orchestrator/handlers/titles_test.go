// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
	"github.com/AleutianAI/aleutian-agent/services/orchestrator/store"
)

func seedTitledSession(t *testing.T, env *chatTestEnv, title string, messages int) *store.ChatSession {
	t.Helper()
	session := &store.ChatSession{UserID: env.user.ID, Title: title}
	require.NoError(t, store.CreateChatSession(context.Background(), env.db.DB(), session))
	for i := 0; i < messages; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		env.seedMessage(session.ID, role, "turn content")
	}
	return session
}

func sessionTitle(t *testing.T, env *chatTestEnv, sessionID string) string {
	t.Helper()
	session, err := store.GetChatSessionByID(context.Background(), env.db.DB(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session.Title
}

func TestNewTitleGenerator_PanicsOnNilDependencies(t *testing.T) {
	env := newChatTestEnv(t, &scriptedLLM{})

	assert.Panics(t, func() { NewTitleGenerator(nil, env.llm) })
	assert.Panics(t, func() { NewTitleGenerator(env.db.DB(), nil) })
}

func TestTitleGenerator_GeneratesAndStores(t *testing.T) {
	client := &scriptedLLM{generated: "  \"Paris Weather\"  \n"}
	env := newChatTestEnv(t, client)
	session := seedTitledSession(t, env, "", 4)

	NewTitleGenerator(env.db.DB(), client).Generate(session.ID)

	assert.Equal(t, "Paris Weather", sessionTitle(t, env, session.ID))

	// The prompt carries the opening exchange, one "role: content" line
	// per message.
	require.Len(t, client.gotPrompts, 1)
	prompt := client.gotPrompts[0]
	assert.Contains(t, prompt, "Generate a short title (3-5 words)")
	assert.Contains(t, prompt, "user: turn content")
	assert.Contains(t, prompt, "assistant: turn content")
	assert.True(t, strings.HasSuffix(prompt, "Title:"))
}

func TestTitleGenerator_SkipsUserNamedSessions(t *testing.T) {
	client := &scriptedLLM{generated: "Should Not Appear"}
	env := newChatTestEnv(t, client)
	session := seedTitledSession(t, env, "My Research Notes", 4)

	NewTitleGenerator(env.db.DB(), client).Generate(session.ID)

	assert.Equal(t, "My Research Notes", sessionTitle(t, env, session.ID))
	assert.Equal(t, 0, client.generateCalls, "no model call for a named session")
}

func TestTitleGenerator_ModelFailureKeepsPlaceholder(t *testing.T) {
	client := &scriptedLLM{generateErr: assert.AnError}
	env := newChatTestEnv(t, client)
	session := seedTitledSession(t, env, "", 4)

	NewTitleGenerator(env.db.DB(), client).Generate(session.ID)

	assert.Equal(t, "New Chat", sessionTitle(t, env, session.ID))
}

func TestTitleGenerator_EmptyOutputKeepsPlaceholder(t *testing.T) {
	client := &scriptedLLM{generated: "  \"\"  "}
	env := newChatTestEnv(t, client)
	session := seedTitledSession(t, env, "", 4)

	NewTitleGenerator(env.db.DB(), client).Generate(session.ID)

	assert.Equal(t, "New Chat", sessionTitle(t, env, session.ID))
}

func TestTitleGenerator_NoMessagesNoCall(t *testing.T) {
	client := &scriptedLLM{generated: "Unused"}
	env := newChatTestEnv(t, client)
	session := seedTitledSession(t, env, "", 0)

	NewTitleGenerator(env.db.DB(), client).Generate(session.ID)

	assert.Equal(t, "New Chat", sessionTitle(t, env, session.ID))
	assert.Equal(t, 0, client.generateCalls)
}

func TestTitleGenerator_MissingSessionIsNoop(t *testing.T) {
	client := &scriptedLLM{generated: "Unused"}
	env := newChatTestEnv(t, client)

	NewTitleGenerator(env.db.DB(), client).Generate("00000000-0000-0000-0000-000000000000")

	assert.Equal(t, 0, client.generateCalls)
}

func TestBuildTitlePrompt_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", titleContentLimit+50)
	prompt := buildTitlePrompt([]store.ChatMessage{
		{Role: datatypes.RoleUser, Content: long},
	})

	assert.Contains(t, prompt, "user: "+strings.Repeat("x", titleContentLimit))
	assert.NotContains(t, prompt, strings.Repeat("x", titleContentLimit+1))
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Paris Weather", "Paris Weather"},
		{"  Paris Weather  ", "Paris Weather"},
		{"\"Paris Weather\"", "Paris Weather"},
		{"'Paris Weather'", "Paris Weather"},
		{" \"  Paris Weather \" ", "Paris Weather"},
		{"\n\"Go Questions\"\n", "Go Questions"},
		{"", ""},
		{"  \"\"  ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanTitle(tc.input), "input %q", tc.input)
	}

	long := cleanTitle(strings.Repeat("Endless Topic ", 30))
	assert.LessOrEqual(t, len(long), titleMaxLength, "runaway completions are capped")
}
