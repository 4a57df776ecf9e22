package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"search-agent/internal/domain"
	"search-agent/internal/gateway"
)

const (
	// timestampLayout is fixed-width so stored timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	// ConversationResetMessage confirms ResetConversation.
	ConversationResetMessage = "Conversation history reset for your session."

	// AnswerHistoryResetMessage confirms ResetAnswerHistory.
	AnswerHistoryResetMessage = "Search answer history reset for your session."
)

// ModelClient generates text from a conversation.
type ModelClient interface {
	Generate(ctx context.Context, messages []domain.Message) (string, error)
}

// SearchClient queries the web search index.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// SessionStore loads and saves per-identity sessions.
type SessionStore interface {
	Get(ctx context.Context, id domain.Identity) (domain.Session, error)
	Put(ctx context.Context, id domain.Identity, s domain.Session) error
}

// SearchService runs the search pipeline and the session history operations.
type SearchService struct {
	model  ModelClient
	search SearchClient
	store  SessionStore
	logger *slog.Logger
	now    func() time.Time
	locks  *identityLocks
}

type Option func(*SearchService)

func WithLogger(l *slog.Logger) Option {
	return func(s *SearchService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SearchService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSearchService(model ModelClient, search SearchClient, store SessionStore, opts ...Option) (*SearchService, error) {
	if model == nil {
		return nil, errors.New("usecase: model client must not be nil")
	}
	if search == nil {
		return nil, errors.New("usecase: search client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	s := &SearchService{
		model:  model,
		search: search,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		locks:  newIdentityLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AISearch refines query against the conversation, searches, synthesizes an
// answer and records the turn. Any query text is accepted. Stage failures
// degrade into the answer text; only session load or save failures are
// returned.
func (s *SearchService) AISearch(ctx context.Context, id domain.Identity, query string) (domain.AnswerRecord, error) {
	var (
		record  domain.AnswerRecord
		refined bool
	)
	err := s.withSession(ctx, id, func(session *domain.Session) error {
		session.AppendMessage(domain.NewTextMessage(domain.RoleUser, query))

		searchQuery := query
		if q, err := s.refineQuery(ctx, session.Conversation, query); err != nil {
			s.degraded(ctx, id, err)
		} else {
			searchQuery = q
			refined = true
		}

		sources, resultsContext, err := s.searchContext(ctx, searchQuery)
		if err != nil {
			s.degraded(ctx, id, err)
		}

		answer, err := s.synthesize(ctx, session.Conversation, resultsContext, query)
		if err != nil {
			s.degraded(ctx, id, err)
			answer = apology(stageCause(err))
		}

		session.AppendMessage(domain.NewTextMessage(domain.RoleModel, answer))
		record = domain.AnswerRecord{
			Query:     query,
			Answer:    answer,
			Sources:   sources,
			Timestamp: s.timestamp(*session),
		}
		session.AppendAnswer(record)
		return nil
	})
	if err != nil {
		return domain.AnswerRecord{}, err
	}

	s.logger.InfoContext(ctx, "search answered",
		"identity", string(id),
		"sources", len(record.Sources),
		"refined", refined,
	)
	return record, nil
}

// ConversationHistory returns the identity's conversation window.
func (s *SearchService) ConversationHistory(ctx context.Context, id domain.Identity) ([]domain.Message, error) {
	var out []domain.Message
	err := s.readSession(ctx, id, func(session domain.Session) {
		out = append([]domain.Message{}, session.Conversation...)
	})
	return out, err
}

// AnswerHistory returns every answer recorded for the identity, oldest first.
func (s *SearchService) AnswerHistory(ctx context.Context, id domain.Identity) ([]domain.AnswerRecord, error) {
	var out []domain.AnswerRecord
	err := s.readSession(ctx, id, func(session domain.Session) {
		out = append([]domain.AnswerRecord{}, session.Answers...)
	})
	return out, err
}

// ResetConversation clears the conversation window. The answer log is kept.
func (s *SearchService) ResetConversation(ctx context.Context, id domain.Identity) (string, error) {
	err := s.withSession(ctx, id, func(session *domain.Session) error {
		session.Conversation = []domain.Message{}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ConversationResetMessage, nil
}

// ResetAnswerHistory clears the answer log. The conversation window is kept.
func (s *SearchService) ResetAnswerHistory(ctx context.Context, id domain.Identity) (string, error) {
	err := s.withSession(ctx, id, func(session *domain.Session) error {
		session.Answers = []domain.AnswerRecord{}
		return nil
	})
	if err != nil {
		return "", err
	}
	return AnswerHistoryResetMessage, nil
}

// GeminiTransform is the transform bound to model calls.
func (s *SearchService) GeminiTransform(raw gateway.RawResponse) gateway.CanonicalResponse {
	return gateway.GeminiTransform(raw)
}

// SearchTransform is the transform bound to search calls.
func (s *SearchService) SearchTransform(raw gateway.RawResponse) gateway.CanonicalResponse {
	return gateway.SearchTransform(raw)
}

// withSession runs mutate between a load and a save of the identity's
// session while holding the identity's lock.
func (s *SearchService) withSession(ctx context.Context, id domain.Identity, mutate func(*domain.Session) error) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return newError(ErrorPersistence, "session_load_error", err)
	}
	if err := mutate(&session); err != nil {
		return err
	}
	if err := s.store.Put(ctx, id, session); err != nil {
		return newError(ErrorPersistence, "session_save_error", err)
	}
	return nil
}

func (s *SearchService) readSession(ctx context.Context, id domain.Identity, read func(domain.Session)) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return newError(ErrorPersistence, "session_load_error", err)
	}
	read(session)
	return nil
}

func (s *SearchService) lock(ctx context.Context, id domain.Identity) (func(), error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, newError(ErrorInvalidInput, "missing_identity", nil)
	}
	release, err := s.locks.acquire(ctx, id)
	if err != nil {
		return nil, newError(ErrorInternal, "session_lock_cancelled", err)
	}
	return release, nil
}

// timestamp returns now, but never earlier than the session's last answer.
func (s *SearchService) timestamp(session domain.Session) string {
	now := s.now().UTC()
	if last, ok := session.LastAnswer(); ok {
		if prev, err := time.Parse(time.RFC3339Nano, last.Timestamp); err == nil && now.Before(prev) {
			now = prev.UTC()
		}
	}
	return now.Format(timestampLayout)
}

func (s *SearchService) degraded(ctx context.Context, id domain.Identity, err error) {
	attrs := []any{"identity", string(id), "err", err}
	var se *StageError
	if errors.As(err, &se) {
		attrs = append(attrs, "stage", string(se.Stage))
	}
	if status, ok := upstreamStatusCode(err); ok && status > 0 {
		attrs = append(attrs, "upstream_status", status)
	}
	s.logger.WarnContext(ctx, "search stage degraded", attrs...)
}

func stageCause(err error) error {
	var se *StageError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err
	}
	return err
}
