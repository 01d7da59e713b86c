// ABOUTME: Tests for transcript export
// ABOUTME: Covers Markdown structure and HTML rendering

package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suchun-sv/LavenderSentinel/internal/conversation"
)

func sampleSnapshot() conversation.SessionSnapshot {
	ts := time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC)
	return conversation.SessionSnapshot{
		ID:      "s-1",
		Title:   "attention mechanisms",
		Context: []string{"2301.00001"},
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "what is attention?", CreatedAt: ts},
			{
				Role:      conversation.RoleAssistant,
				Content:   "Attention weights token interactions.",
				CreatedAt: ts.Add(time.Minute),
				Citations: []string{"relevant passage from the paper"},
			},
		},
		Followups: []string{"How does multi-head attention differ?"},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleSnapshot())

	assert.True(t, strings.HasPrefix(md, "# attention mechanisms\n"))
	assert.Contains(t, md, "`2301.00001`")
	assert.Contains(t, md, "**You**")
	assert.Contains(t, md, "what is attention?")
	assert.Contains(t, md, "**Assistant**")
	assert.Contains(t, md, "Attention weights token interactions.")
	assert.Contains(t, md, "relevant passage from the paper")
	assert.Contains(t, md, "How does multi-head attention differ?")
}

func TestMarkdown_UntitledSession(t *testing.T) {
	md := Markdown(conversation.SessionSnapshot{ID: "s-2"})
	assert.Contains(t, md, "# Untitled session")
}

func TestHTML(t *testing.T) {
	html, err := HTML(sampleSnapshot())
	require.NoError(t, err)

	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "<title>attention mechanisms</title>")
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "Attention weights token interactions.")
}

func TestHTML_EscapesTitle(t *testing.T) {
	snap := conversation.SessionSnapshot{Title: `papers <scripts> & "quotes"`}
	html, err := HTML(snap)
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;scripts&gt;")
	assert.NotContains(t, html, "<scripts>")
}
