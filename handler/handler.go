package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"search-agent/internal/domain"
	"search-agent/internal/gateway"
	"search-agent/internal/usecase"
)

const (
	headerCorrelationID  = "X-Correlation-Id"
	headerCallerIdentity = "X-Caller-Identity"

	maxBodyBytes       = 64 << 10
	defaultMaxQueryLen = 1000

	codeUnauthenticated  = "UNAUTHENTICATED"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type SearchUseCase interface {
	AISearch(ctx context.Context, id domain.Identity, query string) (domain.AnswerRecord, error)
	ConversationHistory(ctx context.Context, id domain.Identity) ([]domain.Message, error)
	AnswerHistory(ctx context.Context, id domain.Identity) ([]domain.AnswerRecord, error)
	ResetConversation(ctx context.Context, id domain.Identity) (string, error)
	ResetAnswerHistory(ctx context.Context, id domain.Identity) (string, error)
	GeminiTransform(raw gateway.RawResponse) gateway.CanonicalResponse
	SearchTransform(raw gateway.RawResponse) gateway.CanonicalResponse
}

// Handler serves the search API for both API Gateway proxy events and the
// local chi router.
type Handler struct {
	uc          SearchUseCase
	logger      *slog.Logger
	maxQueryLen int
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxQueryLength bounds the search query length in characters.
func WithMaxQueryLength(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxQueryLen = n
		}
	}
}

func NewHandler(uc SearchUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default(), maxQueryLen: defaultMaxQueryLen}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type searchRequest struct {
	Query string `json:"query"`
}

type okResponse struct {
	OK any `json:"ok"`
}

type errorResponse struct {
	Err   string `json:"err"`
	Error string `json:"error"`
}

// request is the transport-neutral view of an inbound call.
type request struct {
	method   string
	path     string
	identity domain.Identity
	body     []byte
}

type response struct {
	status int
	body   any
}

// Handle is the Lambda entry point.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.lambdaResponse(correlationID, failure(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body is not valid base64"))
		}
		body = decoded
	}
	if len(body) > maxBodyBytes {
		return h.lambdaResponse(correlationID, failure(http.StatusRequestEntityTooLarge, string(usecase.ErrorInvalidInput), "request body too large"))
	}

	res := h.dispatch(ctx, correlationID, request{
		method:   event.HTTPMethod,
		path:     event.Path,
		identity: lambdaIdentity(event),
		body:     body,
	})
	return h.lambdaResponse(correlationID, res)
}

func (h *Handler) lambdaResponse(correlationID string, res response) (events.APIGatewayProxyResponse, error) {
	payload, err := json.Marshal(res.body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: res.status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: correlationID,
		},
		Body: string(payload),
	}, nil
}

type operation func(h *Handler, ctx context.Context, req request) response

type route struct {
	method       string
	path         string
	needIdentity bool
	op           operation
}

var routes = []route{
	{method: http.MethodPost, path: "/search", needIdentity: true, op: (*Handler).search},
	{method: http.MethodGet, path: "/history/conversation", needIdentity: true, op: (*Handler).conversationHistory},
	{method: http.MethodGet, path: "/history/answers", needIdentity: true, op: (*Handler).answerHistory},
	{method: http.MethodDelete, path: "/history/conversation", needIdentity: true, op: (*Handler).resetConversation},
	{method: http.MethodDelete, path: "/history/answers", needIdentity: true, op: (*Handler).resetAnswerHistory},
	{method: http.MethodPost, path: "/transforms/gemini", op: (*Handler).geminiTransform},
	{method: http.MethodPost, path: "/transforms/search", op: (*Handler).searchTransform},
}

func (h *Handler) dispatch(ctx context.Context, correlationID string, req request) response {
	path := normalizePath(req.path)
	pathKnown := false
	for _, rt := range routes {
		if rt.path != path {
			continue
		}
		pathKnown = true
		if !strings.EqualFold(rt.method, req.method) {
			continue
		}
		return h.invoke(ctx, correlationID, rt, req)
	}
	if pathKnown {
		return failure(http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	}
	return failure(http.StatusNotFound, codeNotFound, "route not found")
}

func (h *Handler) invoke(ctx context.Context, correlationID string, rt route, req request) response {
	if rt.needIdentity && strings.TrimSpace(string(req.identity)) == "" {
		return failure(http.StatusUnauthorized, codeUnauthenticated, "caller identity is required")
	}
	res := rt.op(h, ctx, req)
	if res.status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			"correlation_id", correlationID,
			"method", rt.method,
			"path", rt.path,
			"status", res.status,
		)
	}
	return res
}

func (h *Handler) search(ctx context.Context, req request) response {
	var in searchRequest
	if err := json.Unmarshal(req.body, &in); err != nil {
		return failure(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body must be JSON with a query field")
	}
	if utf8.RuneCountInString(in.Query) > h.maxQueryLen {
		return failure(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "query is too long")
	}
	rec, err := h.uc.AISearch(ctx, req.identity, in.Query)
	if err != nil {
		return h.fromError(ctx, err)
	}
	return ok(rec)
}

func (h *Handler) conversationHistory(ctx context.Context, req request) response {
	msgs, err := h.uc.ConversationHistory(ctx, req.identity)
	if err != nil {
		return h.fromError(ctx, err)
	}
	return ok(msgs)
}

func (h *Handler) answerHistory(ctx context.Context, req request) response {
	answers, err := h.uc.AnswerHistory(ctx, req.identity)
	if err != nil {
		return h.fromError(ctx, err)
	}
	return ok(answers)
}

func (h *Handler) resetConversation(ctx context.Context, req request) response {
	msg, err := h.uc.ResetConversation(ctx, req.identity)
	if err != nil {
		return h.fromError(ctx, err)
	}
	return ok(msg)
}

func (h *Handler) resetAnswerHistory(ctx context.Context, req request) response {
	msg, err := h.uc.ResetAnswerHistory(ctx, req.identity)
	if err != nil {
		return h.fromError(ctx, err)
	}
	return ok(msg)
}

func (h *Handler) geminiTransform(_ context.Context, req request) response {
	raw, res, valid := decodeRawResponse(req.body)
	if !valid {
		return res
	}
	return ok(h.uc.GeminiTransform(raw))
}

func (h *Handler) searchTransform(_ context.Context, req request) response {
	raw, res, valid := decodeRawResponse(req.body)
	if !valid {
		return res
	}
	return ok(h.uc.SearchTransform(raw))
}

func decodeRawResponse(body []byte) (gateway.RawResponse, response, bool) {
	var raw gateway.RawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return gateway.RawResponse{}, failure(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body must be a raw response object"), false
	}
	return raw, response{}, true
}

func (h *Handler) fromError(ctx context.Context, err error) response {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.ErrorContext(ctx, "unexpected use case error", "err", err)
		return failure(http.StatusInternalServerError, string(usecase.ErrorInternal), "internal error")
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return failure(http.StatusBadRequest, string(ue.Code), reasonMessage(ue.Reason))
	case usecase.ErrorPersistence:
		h.logger.ErrorContext(ctx, "session store failure", "reason", ue.Reason, "err", ue.Err)
		return failure(http.StatusServiceUnavailable, string(ue.Code), "session storage is unavailable")
	default:
		h.logger.ErrorContext(ctx, "use case failure", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
		return failure(http.StatusInternalServerError, string(usecase.ErrorInternal), "internal error")
	}
}

func reasonMessage(reason string) string {
	switch reason {
	case "missing_identity":
		return "caller identity is required"
	default:
		return "invalid input"
	}
}

func ok(v any) response {
	return response{status: http.StatusOK, body: okResponse{OK: v}}
}

func failure(status int, code, msg string) response {
	return response{status: status, body: errorResponse{Err: msg, Error: code}}
}

// lambdaIdentity prefers the authorizer's principal over the caller header.
func lambdaIdentity(event events.APIGatewayProxyRequest) domain.Identity {
	if principal, ok := event.RequestContext.Authorizer["principalId"].(string); ok && strings.TrimSpace(principal) != "" {
		return domain.Identity(strings.TrimSpace(principal))
	}
	return domain.Identity(strings.TrimSpace(headerValue(event.Headers, headerCallerIdentity)))
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
