// Package activation performs the network handshake that binds a serial key
// to a machine.
package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"licensecore/internal/infrastructure"
)

// DefaultURL is the production activation endpoint
const DefaultURL = "https://symless.com/api/product/activate"

// DefaultTimeout bounds a single activation round trip
const DefaultTimeout = 30 * time.Second

// User facing failure messages
const (
	MsgEmptyReply    = "License activation failed, empty network reply."
	MsgNetworkError  = "License activation failed, there was a network error."
	MsgEmptyResponse = "License activation failed, the server sent an empty response."
	MsgUnknownError  = "License activation failed, unknown error."
)

const (
	statusSuccess = "success"
	previewLimit  = 200
	maxBodyBytes  = 1 << 20
	tracerName    = "license-activation"
)

// ErrBusy is returned when an activation is already outstanding
var ErrBusy = errors.New("activation already in progress")

// Request is the activation request body. Identifiers must already be
// one-way digests.
type Request struct {
	MachineSignature  string `json:"machineSignature" validate:"required"`
	HostnameSignature string `json:"hostnameSignature" validate:"required"`
	SerialKey         string `json:"serialKey" validate:"required"`
	AppVersion        string `json:"appVersion" validate:"required"`
	OSName            string `json:"osName" validate:"required"`
	IsServer          bool   `json:"isServer"`
}

// Outcome is the result of one activation attempt. Message is safe to show
// to the user; Detail is for logs only.
type Outcome struct {
	Success    bool
	Message    string
	Detail     string
	StatusCode int
	Duration   time.Duration
}

type response struct {
	Status  *string `json:"status"`
	Message string  `json:"message"`
}

// Doer sends HTTP requests
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Activator posts activation requests. At most one request is outstanding.
type Activator struct {
	url        string
	client     Doer
	userAgent  string
	logger     *slog.Logger
	validate   *validator.Validate
	tracer     trace.Tracer
	busy       atomic.Bool
	postsTotal atomic.Int64
}

// Option configures an Activator
type Option func(*Activator)

// WithClient replaces the HTTP client
func WithClient(c Doer) Option {
	return func(a *Activator) { a.client = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Activator) { a.logger = l }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(a *Activator) { a.userAgent = ua }
}

// New creates an Activator posting to url. A timeout of zero uses DefaultTimeout.
func New(url string, timeout time.Duration, opts ...Option) *Activator {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	a := &Activator{
		url:       url,
		client:    &http.Client{Timeout: timeout},
		userAgent: "licensecore",
		logger:    slog.Default(),
		validate:  validator.New(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "activator")
	return a
}

// URL returns the endpoint in use
func (a *Activator) URL() string {
	return a.url
}

// IsBusy reports whether a request is outstanding
func (a *Activator) IsBusy() bool {
	return a.busy.Load()
}

// Posts returns how many requests have been sent
func (a *Activator) Posts() int64 {
	return a.postsTotal.Load()
}

// Activate sends req in the background and returns a channel that yields
// exactly one Outcome. Every string field of req must be set; an incomplete
// request is a programming error and panics.
func (a *Activator) Activate(ctx context.Context, req Request) (<-chan Outcome, error) {
	if err := a.validate.Struct(req); err != nil {
		panic(fmt.Sprintf("activation: incomplete request: %v", err))
	}
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	out := make(chan Outcome, 1)
	go func() {
		outcome := a.roundTrip(ctx, req)
		a.busy.Store(false)
		out <- outcome
		close(out)
	}()
	return out, nil
}

func (a *Activator) roundTrip(ctx context.Context, req Request) Outcome {
	ctx, span := a.tracer.Start(ctx, "license.activation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("activation.url", a.url),
			attribute.Bool("activation.is_server", req.IsServer),
			attribute.String("activation.app_version", req.AppVersion),
		))
	defer span.End()

	start := time.Now()
	outcome := a.post(ctx, req)
	outcome.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Bool("activation.success", outcome.Success),
		attribute.Int("http.status_code", outcome.StatusCode),
	)
	if outcome.Success {
		span.SetStatus(codes.Ok, "activation succeeded")
	} else {
		span.SetStatus(codes.Error, outcome.Message)
	}
	return outcome
}

func (a *Activator) post(ctx context.Context, req Request) Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		panic(fmt.Sprintf("activation: failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		a.logger.WarnContext(ctx, "activation request could not be built", slog.String("error", err.Error()))
		return Outcome{Message: MsgNetworkError, Detail: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", a.userAgent)

	a.logger.DebugContext(ctx, "activating", slog.String("url", a.url))
	a.postsTotal.Add(1)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		a.logger.WarnContext(ctx, "activation error", slog.String("error", err.Error()))
		return Outcome{Message: MsgNetworkError, Detail: err.Error()}
	}
	if resp == nil {
		a.logger.WarnContext(ctx, "no activation reply")
		return Outcome{Message: MsgEmptyReply, Detail: "nil response"}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return a.interpret(ctx, resp.StatusCode, raw, readErr)
}

// interpret applies the response precedence: transport failure, empty or
// unparseable body, non-success status, success
func (a *Activator) interpret(ctx context.Context, statusCode int, raw []byte, readErr error) Outcome {
	if readErr != nil {
		a.logger.WarnContext(ctx, "activation error",
			slog.Int("status_code", statusCode),
			slog.String("error", readErr.Error()),
			slog.String("body_preview", Preview(raw)))
		return Outcome{Message: MsgNetworkError, Detail: readErr.Error(), StatusCode: statusCode}
	}

	var parsed response
	parseErr := json.Unmarshal(raw, &parsed)
	hasStatus := parseErr == nil && parsed.Status != nil

	// error statuses without a structured body are transport failures
	if statusCode >= http.StatusBadRequest && !hasStatus {
		a.logger.WarnContext(ctx, "activation error",
			slog.Int("status_code", statusCode),
			slog.String("body_preview", Preview(raw)))
		return Outcome{
			Message:    MsgNetworkError,
			Detail:     fmt.Sprintf("http status %d", statusCode),
			StatusCode: statusCode,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 || parseErr != nil {
		detail := "empty body"
		if parseErr != nil && len(bytes.TrimSpace(raw)) > 0 {
			detail = parseErr.Error()
		}
		a.logger.WarnContext(ctx, "empty activation response",
			slog.Int("status_code", statusCode),
			slog.String("detail", detail),
			slog.String("body_preview", Preview(raw)))
		return Outcome{Message: MsgEmptyResponse, Detail: detail, StatusCode: statusCode}
	}

	status := ""
	if parsed.Status != nil {
		status = *parsed.Status
	}
	if status != statusSuccess {
		if status == "" {
			a.logger.WarnContext(ctx, "activation status was empty")
		} else {
			a.logger.WarnContext(ctx, "activation status", slog.String("status", status))
		}

		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			a.logger.WarnContext(ctx, "activation message", slog.String("message", parsed.Message))
			return Outcome{Message: parsed.Message, Detail: "status " + status, StatusCode: statusCode}
		}
		a.logger.WarnContext(ctx, "activation message was empty")
		return Outcome{Message: MsgUnknownError, Detail: "status " + status, StatusCode: statusCode}
	}

	a.logger.DebugContext(ctx, "activation succeeded")
	return Outcome{Success: true, StatusCode: statusCode}
}

// Preview truncates a response body for diagnostics
func Preview(body []byte) string {
	if len(body) > previewLimit {
		return string(body[:previewLimit]) + "..."
	}
	return string(body)
}
