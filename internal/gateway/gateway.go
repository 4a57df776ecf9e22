package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindHTTPStatus       Kind = "HTTP_STATUS"
	KindTransport        Kind = "TRANSPORT"
	KindResponseTooLarge Kind = "RESPONSE_TOO_LARGE"
)

// maxErrorBody bounds the diagnostic body carried by HTTP status errors.
const maxErrorBody = 4096

// Error is returned for every failed outbound call.
type Error struct {
	Kind    Kind
	Status  int
	Body    string
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("gateway: unexpected status %d: %s", e.Status, e.Body)
	case KindResponseTooLarge:
		return fmt.Sprintf("gateway: response too large: %s", e.Message)
	default:
		return fmt.Sprintf("gateway: transport error: %s", e.Message)
	}
}

// HTTPStatusCode reports the upstream status for HTTP status errors.
func (e *Error) HTTPStatusCode() int {
	return e.Status
}

// Budget is the fixed resource quota attached to every call.
type Budget struct {
	MaxResponseBytes int64
	Timeout          time.Duration
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Budget  Budget
}

// Response is a successful, already-transformed response.
type Response struct {
	Status int
	Body   []byte
}

// Gateway issues outbound calls. It never retries: a failed call is terminal.
type Gateway struct {
	client *resty.Client
	logger *slog.Logger
}

type Option func(*Gateway)

func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gateway) {
		if hc != nil {
			g.client = resty.NewWithClient(hc)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		client: resty.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client.SetRetryCount(0)
	return g
}

// Issue executes req under its budget and routes the response through
// transform before any status check.
func (g *Gateway) Issue(ctx context.Context, req Request, transform Transform) (Response, error) {
	if transform == nil {
		return Response{}, &Error{Kind: KindTransport, Message: "no transform bound to call"}
	}
	if req.Budget.MaxResponseBytes <= 0 {
		return Response{}, &Error{Kind: KindTransport, Message: "no response size budget"}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if req.Budget.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Budget.Timeout)
		defer cancel()
	}

	r := g.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(method, req.URL)
	if err != nil {
		if res != nil && res.RawBody() != nil {
			_ = res.RawBody().Close()
		}
		return Response{}, &Error{Kind: KindTransport, Message: transportMessage(err)}
	}
	rawBody := res.RawBody()
	if rawBody == nil {
		return Response{}, &Error{Kind: KindTransport, Message: "empty response stream"}
	}
	defer func() { _ = rawBody.Close() }()

	body, err := io.ReadAll(io.LimitReader(rawBody, req.Budget.MaxResponseBytes+1))
	if err != nil {
		return Response{}, &Error{Kind: KindTransport, Message: transportMessage(err)}
	}
	if int64(len(body)) > req.Budget.MaxResponseBytes {
		return Response{}, &Error{
			Kind:    KindResponseTooLarge,
			Message: fmt.Sprintf("exceeds %d bytes", req.Budget.MaxResponseBytes),
		}
	}

	canonical := transform(RawResponse{
		Status:  res.StatusCode(),
		Headers: flattenHeaders(res.Header()),
		Body:    body,
	})

	g.logger.Debug("gateway call",
		"method", method,
		"host", hostOf(req.URL),
		"status", canonical.Status,
		"bytes", len(canonical.Body),
	)

	if canonical.Status != http.StatusOK {
		diag := canonical.Body
		if len(diag) > maxErrorBody {
			diag = diag[:maxErrorBody]
		}
		return Response{}, &Error{Kind: KindHTTPStatus, Status: canonical.Status, Body: string(diag)}
	}
	return Response{Status: canonical.Status, Body: canonical.Body}, nil
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline exceeded"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Drop the URL: it may carry query credentials.
		return urlErr.Err.Error()
	}
	return err.Error()
}

// flattenHeaders returns headers in a stable order.
func flattenHeaders(h http.Header) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Header, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: strings.ToLower(name), Value: v})
		}
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
