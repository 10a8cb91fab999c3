package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"certflow/internal/certification/metrics"
	"certflow/internal/certification/models"
	"certflow/pkg/platform/circuit"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxRetries  = 2
	defaultBackoff     = 500 * time.Millisecond
	maxResponseBytes   = 1 << 20
	submitPath         = "/certifications"
	statusPathTemplate = "/certifications/%s/status"
)

// HTTPClient is the production Client. Every attempt runs under its own
// timeout; retries back off exponentially and stop when the caller's context
// ends.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	tracer     trace.Tracer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*HTTPClient)

func WithAPIKey(key string) Option {
	return func(c *HTTPClient) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets the number of extra attempts for retryable failures and
// the first backoff step.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *HTTPClient) {
		if n >= 0 {
			c.maxRetries = n
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithRateLimit caps outbound calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *HTTPClient) { c.breaker = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *HTTPClient) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewHTTPClient builds a client for the authority rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		tracer:     otel.Tracer("certflow/authority"),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts the applicant payload and evidence as multipart/form-data.
// Only explicit "not processed" answers (429, 503) are retried so a timed-out
// submission is never sent twice.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*Ack, error) {
	payload, contentType, err := encodeSubmission(req)
	if err != nil {
		return nil, NewError(ErrorBadData, OperationSubmit, 0, nil, err)
	}
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		return r, nil
	}

	status, body, err := c.call(ctx, OperationSubmit, req.Applicant.CertificationNumber, build, retrySubmit)
	if err != nil {
		return nil, err
	}

	ack := &Ack{Raw: rawJSON(body), ReceivedAt: time.Now()}
	sb, perr := parseSubmitResponse(body)
	if perr != nil {
		// 2xx means accepted; keep the unreadable body for audit.
		c.logger.WarnContext(ctx, "authority submit response unreadable",
			"certification_number", req.Applicant.CertificationNumber,
			"error", perr,
		)
		return ack, nil
	}
	if sb.Success != nil && !*sb.Success {
		return nil, NewError(ErrorRejected, OperationSubmit, status, sb.messages(), nil)
	}
	if s := models.ValidationStatus(strings.ToUpper(sb.ValidationStatus)); s.IsValid() {
		ack.Status = s
	}
	ack.Messages = sb.messages()
	return ack, nil
}

// Status fetches the authority status of one certification.
func (c *HTTPClient) Status(ctx context.Context, certificationNumber string) (*StatusResponse, error) {
	endpoint := c.baseURL + fmt.Sprintf(statusPathTemplate, url.PathEscape(certificationNumber))
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}

	_, body, err := c.call(ctx, OperationStatus, certificationNumber, build, retryStatus)
	if err != nil {
		return nil, err
	}
	status, msgs, perr := parseStatusResponse(body)
	if perr != nil {
		return nil, NewError(ErrorBadData, OperationStatus, 0, nil, perr)
	}
	return &StatusResponse{
		Status:     status,
		Messages:   msgs,
		Raw:        rawJSON(body),
		ReceivedAt: time.Now(),
	}, nil
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

type retryPolicy func(*Error) bool

func retrySubmit(e *Error) bool {
	return e.Category == ErrorRateLimited ||
		(e.Category == ErrorOutage && e.StatusCode == http.StatusServiceUnavailable)
}

func retryStatus(e *Error) bool {
	return e.Retryable && e.Category != ErrorCircuitOpen
}

func (c *HTTPClient) call(ctx context.Context, op, number string, build requestBuilder, retry retryPolicy) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "authority."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("authority.operation", op),
			attribute.String("certification.number", number),
		),
	)
	defer span.End()

	start := time.Now()
	status, body, err := c.callWithRetry(ctx, op, number, build, retry)
	outcome := "ok"
	if err != nil {
		outcome = string(err.Category)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.metrics.ObserveAuthorityCall(op, outcome, time.Since(start))
	if err != nil {
		return status, nil, err
	}
	return status, body, nil
}

func (c *HTTPClient) callWithRetry(ctx context.Context, op, number string, build requestBuilder, retry retryPolicy) (int, []byte, *Error) {
	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, nil, classifyTransport(ctx, op, ctx.Err())
			case <-timer.C:
			}
		}
		status, body, err := c.attempt(ctx, op, build)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		if !retry(err) {
			break
		}
		c.logger.WarnContext(ctx, "authority call failed, retrying",
			"operation", op,
			"certification_number", number,
			"attempt", attempt+1,
			"category", err.Category,
		)
	}
	return lastErr.StatusCode, nil, lastErr
}

func (c *HTTPClient) attempt(ctx context.Context, op string, build requestBuilder) (int, []byte, *Error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return 0, nil, NewError(ErrorCircuitOpen, op, 0, nil, nil)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, nil, classifyTransport(ctx, op, err)
			}
			return 0, nil, NewError(ErrorRateLimited, op, 0, nil, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return 0, nil, NewError(ErrorBadData, op, 0, nil, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		aerr := classifyTransport(ctx, op, err)
		if aerr.Category != ErrorCanceled {
			c.recordFailure()
		}
		return 0, nil, aerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordFailure()
		return resp.StatusCode, nil, classifyTransport(ctx, op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.recordSuccess()
		return resp.StatusCode, body, nil
	}
	aerr := classifyStatus(op, resp.StatusCode, errorMessages(body))
	if aerr.Category == ErrorOutage || aerr.Category == ErrorRateLimited {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}
	return resp.StatusCode, nil, aerr
}

func (c *HTTPClient) recordFailure() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("authority circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *HTTPClient) recordSuccess() {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("authority circuit closed", "breaker", c.breaker.Name())
	}
}

func encodeSubmission(req SubmitRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	payload, err := json.Marshal(req.Applicant)
	if err != nil {
		return nil, "", fmt.Errorf("marshal applicant: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="payload"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}

	for _, f := range req.Files {
		fh := make(textproto.MIMEHeader)
		fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, string(f.Slot), f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		fh.Set("Content-Type", ct)
		fp, err := w.CreatePart(fh)
		if err != nil {
			return nil, "", err
		}
		if _, err := fp.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// rawJSON keeps a body verbatim, quoting it when it is not JSON.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
