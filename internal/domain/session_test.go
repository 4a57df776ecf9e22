package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendMessage_EvictsOldestBeyondWindow(t *testing.T) {
	var s Session
	for i := 0; i < 13; i++ {
		s.AppendMessage(NewTextMessage(RoleUser, fmt.Sprintf("m%d", i)))
		require.LessOrEqual(t, len(s.Conversation), MaxConversationWindow)
	}
	require.Len(t, s.Conversation, MaxConversationWindow)
	require.Equal(t, "m3", s.Conversation[0].Parts[0].Text)
	require.Equal(t, "m12", s.Conversation[9].Parts[0].Text)
}

func TestAppendMessage_UnderWindowKeepsAll(t *testing.T) {
	var s Session
	s.AppendMessage(NewTextMessage(RoleUser, "q"))
	s.AppendMessage(NewTextMessage(RoleModel, "a"))
	require.Len(t, s.Conversation, 2)
	require.Equal(t, RoleUser, s.Conversation[0].Role)
	require.Equal(t, RoleModel, s.Conversation[1].Role)
}

func TestAppendAnswer_PreservesOrder(t *testing.T) {
	var s Session
	_, ok := s.LastAnswer()
	require.False(t, ok)

	for i := 0; i < 20; i++ {
		s.AppendAnswer(AnswerRecord{Query: fmt.Sprintf("q%d", i)})
	}
	require.Len(t, s.Answers, 20)
	require.Equal(t, "q0", s.Answers[0].Query)

	last, ok := s.LastAnswer()
	require.True(t, ok)
	require.Equal(t, "q19", last.Query)
}
