package domain

// MaxConversationWindow is the number of messages kept as model context.
const MaxConversationWindow = 10

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Identity is the opaque caller key that partitions all session state.
type Identity string

// ContentPart is a single unit of message content.
type ContentPart struct {
	Text string `json:"text"`
}

// Message is one conversation turn in the model's role vocabulary.
type Message struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// NewTextMessage builds a single-part message.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Text: text}}}
}

// SearchResult is one item returned by the search index.
type SearchResult struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Snippet     string  `json:"snippet"`
	DisplayLink *string `json:"displayLink,omitempty"`
}

// AnswerRecord is the audit entry for one completed search turn.
type AnswerRecord struct {
	Query     string         `json:"query"`
	Answer    string         `json:"answer"`
	Sources   []SearchResult `json:"sources"`
	Timestamp string         `json:"timestamp"`
}

// Session is the durable per-identity state.
//
// Version is the store's optimistic concurrency token. It is owned by the
// store and is not part of the serialized session.
type Session struct {
	Conversation []Message      `json:"conversationHistory"`
	Answers      []AnswerRecord `json:"searchAnswerHistory"`
	Version      int64          `json:"-"`
}

// AppendMessage appends m and evicts the oldest messages until the window
// holds at most MaxConversationWindow entries.
func (s *Session) AppendMessage(m Message) {
	s.Conversation = append(s.Conversation, m)
	if over := len(s.Conversation) - MaxConversationWindow; over > 0 {
		s.Conversation = append([]Message(nil), s.Conversation[over:]...)
	}
}

// AppendAnswer appends r to the answer log.
func (s *Session) AppendAnswer(r AnswerRecord) {
	s.Answers = append(s.Answers, r)
}

// LastAnswer returns the most recent answer record, if any.
func (s *Session) LastAnswer() (AnswerRecord, bool) {
	if len(s.Answers) == 0 {
		return AnswerRecord{}, false
	}
	return s.Answers[len(s.Answers)-1], true
}
