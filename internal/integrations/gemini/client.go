package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"search-agent/internal/domain"
	"search-agent/internal/gateway"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"

	// APIKeyParameter is the credential name resolved for every call.
	APIKeyParameter = "gemini_api_key"
)

var (
	// ErrMalformedResponse is returned when a 200 response carries no usable candidate.
	ErrMalformedResponse = errors.New("gemini: unexpected response format or no valid candidate generated")
	// ErrBlocked is returned when the prompt was rejected by safety filters.
	ErrBlocked = errors.New("gemini: response blocked")
)

// generateRequest is the request shape for the generateContent endpoint.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

var defaultSafetySettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

// Issuer executes an outbound call through the gateway.
type Issuer interface {
	Issue(ctx context.Context, req gateway.Request, transform gateway.Transform) (gateway.Response, error)
}

// CredentialResolver resolves named credentials at call time.
type CredentialResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Client invokes the Gemini generateContent endpoint.
type Client struct {
	gw              Issuer
	creds           CredentialResolver
	baseURL         string
	model           string
	budget          gateway.Budget
	temperature     float64
	maxOutputTokens int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.baseURL = v
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(model); v != "" {
			c.model = v
		}
	}
}

// WithBudget sets the resource quota attached to every model call.
func WithBudget(b gateway.Budget) Option {
	return func(c *Client) {
		c.budget = b
	}
}

// NewClient creates a Client. The API key is resolved through creds on every
// call so a missing key surfaces at the call site.
func NewClient(gw Issuer, creds CredentialResolver, opts ...Option) (*Client, error) {
	if gw == nil {
		return nil, errors.New("gemini: gateway must not be nil")
	}
	if creds == nil {
		return nil, errors.New("gemini: credential resolver must not be nil")
	}
	c := &Client{
		gw:              gw,
		creds:           creds,
		baseURL:         defaultBaseURL,
		model:           defaultModel,
		budget:          gateway.Budget{MaxResponseBytes: 1 << 20, Timeout: 30 * time.Second},
		temperature:     0.7,
		maxOutputTokens: 1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1beta") {
		base += "/v1beta"
	}
	return base + "/models/" + model + ":generateContent"
}

// Generate sends the role-tagged conversation and returns the first
// candidate's text.
func (c *Client) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	apiKey, err := c.creds.Resolve(ctx, APIKeyParameter)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents:         toContents(messages),
		GenerationConfig: generationConfig{Temperature: c.temperature, MaxOutputTokens: c.maxOutputTokens},
		SafetySettings:   defaultSafetySettings,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	res, err := c.gw.Issue(ctx, gateway.Request{
		Method: http.MethodPost,
		URL:    generateURL(c.baseURL, c.model),
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"Accept":         "application/json",
			"x-goog-api-key": apiKey,
		},
		Body:   body,
		Budget: c.budget,
	}, gateway.GeminiTransform)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", err)
	}

	return parseCandidateText(res.Body)
}

func toContents(messages []domain.Message) []content {
	out := make([]content, 0, len(messages))
	for _, m := range messages {
		parts := make([]part, 0, len(m.Parts))
		for _, p := range m.Parts {
			parts = append(parts, part{Text: p.Text})
		}
		out = append(out, content{Role: m.Role, Parts: parts})
	}
	return out
}

func parseCandidateText(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(body)

	if reason := doc.Get("promptFeedback.blockReason").String(); reason != "" {
		return "", fmt.Errorf("%w due to safety: %s", ErrBlocked, reason)
	}

	text := doc.Get("candidates.0.content.parts.0.text")
	if text.Type != gjson.String {
		return "", ErrMalformedResponse
	}
	return text.String(), nil
}
