package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"search-agent/internal/domain"
)

// ErrVersionConflict is returned by Put when the session changed since it
// was loaded.
var ErrVersionConflict = errors.New("repository: session version conflict")

func validIdentity(id domain.Identity) error {
	if strings.TrimSpace(string(id)) == "" {
		return errors.New("repository: identity must not be empty")
	}
	return nil
}

// encodeSession serializes the two histories. Nil slices are stored as
// empty arrays.
func encodeSession(s domain.Session) (conversation, answers string, err error) {
	conversation, err = encodeMessages(s.Conversation)
	if err != nil {
		return "", "", err
	}
	records := s.Answers
	if records == nil {
		records = []domain.AnswerRecord{}
	}
	a, err := json.Marshal(records)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	return conversation, string(a), nil
}

func newEmptySession() domain.Session {
	return domain.Session{
		Conversation: []domain.Message{},
		Answers:      []domain.AnswerRecord{},
	}
}

func decodeSession(conversation, answers string, version int64) (domain.Session, error) {
	s := newEmptySession()
	s.Version = version
	msgs, err := decodeMessages(conversation)
	if err != nil {
		return domain.Session{}, err
	}
	s.Conversation = msgs
	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &s.Answers); err != nil {
			return domain.Session{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	return s, nil
}

func encodeMessages(msgs []domain.Message) (string, error) {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	return string(b), nil
}

func decodeMessages(raw string) ([]domain.Message, error) {
	msgs := []domain.Message{}
	if raw == "" {
		return msgs, nil
	}
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return msgs, nil
}

func encodeAnswer(r domain.AnswerRecord) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode answer: %w", err)
	}
	return string(b), nil
}

func decodeAnswer(raw string) (domain.AnswerRecord, error) {
	var r domain.AnswerRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("decode answer: %w", err)
	}
	return r, nil
}
