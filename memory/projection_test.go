package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/core"
)

func TestProviderStateMergesConsecutiveRoles(t *testing.T) {
	s := NewInMemoryStore()
	s.Ensure("s1")
	require.True(t, s.AddUserMessage("s1", "first", nil))
	require.True(t, s.AddUserMessage("s1", "second", nil))
	require.True(t, s.AddAssistantMessage("s1", "reply", "chat"))

	state, ok := s.ProviderState("s1")
	require.True(t, ok)
	require.Len(t, state, 2)
	assert.Equal(t, core.RoleUser, state[0].Role)
	assert.Equal(t, "first\n\nsecond", state[0].Text)
	assert.Equal(t, core.RoleAssistant, state[1].Role)
}

func TestProviderStateDropsTrailingUserMessage(t *testing.T) {
	s := NewInMemoryStore()
	s.Ensure("s1")
	require.True(t, s.AddUserMessage("s1", "question", nil))
	require.True(t, s.AddAssistantMessage("s1", "answer", "chat"))
	require.True(t, s.AddUserMessage("s1", "unanswered", nil))

	state, ok := s.ProviderState("s1")
	require.True(t, ok)
	require.Len(t, state, 2)
	assert.Equal(t, core.RoleAssistant, state[1].Role)
}

func TestProviderStateEmptySession(t *testing.T) {
	s := NewInMemoryStore()
	s.Ensure("s1")
	state, ok := s.ProviderState("s1")
	require.True(t, ok)
	assert.Empty(t, state)
}

func TestProviderStateOnlyUnansweredUser(t *testing.T) {
	s := NewInMemoryStore()
	s.Ensure("s1")
	require.True(t, s.AddUserMessage("s1", "hello", nil))

	state, ok := s.ProviderState("s1")
	require.True(t, ok)
	assert.Empty(t, state)
}
