package clearinghouse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/claims/pkg/retry"
)

// ContentTypeX12 is sent as the request content type.
const ContentTypeX12 = "application/edi-x12"

// StatusError is a non-2xx clearinghouse response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clearinghouse: non-2xx response: %d", e.StatusCode)
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithBasicAuth sets credentials sent on every request.
func WithBasicAuth(username, password string) HTTPOption {
	return func(t *HTTPTransport) { t.username, t.password = username, password }
}

// WithSecret enables the X-Claim-Signature header.
func WithSecret(secret string) HTTPOption {
	return func(t *HTTPTransport) { t.secret = secret }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg retry.Config) HTTPOption {
	return func(t *HTTPTransport) { t.retry = cfg }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l zerolog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = l }
}

// HTTPTransport POSTs the raw X12 body to the clearinghouse endpoint.
// 5xx responses and network errors are retried; 4xx responses are not.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	username string
	password string
	secret   string
	retry    retry.Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHTTPTransport(endpoint string, opts ...HTTPOption) (*HTTPTransport, error) {
	if err := validateURL(endpoint); err != nil {
		return nil, err
	}
	t := &HTTPTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry.DefaultConfig(),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("clearinghouse: url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("clearinghouse: invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("clearinghouse: url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func (t *HTTPTransport) Submit(ctx context.Context, s Submission) error {
	notify := func(attempt int, err error, next time.Duration) {
		t.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", next).
			Str("claim_number", s.ClaimNumber).Msg("clearinghouse submission failed, retrying")
	}
	return retry.DoNotify(ctx, t.retry, func(ctx context.Context) error {
		return t.post(ctx, s)
	}, notify)
}

func (t *HTTPTransport) post(ctx context.Context, s Submission) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(s.Content))
	if err != nil {
		return retry.Permanent(fmt.Errorf("clearinghouse: build request: %w", err))
	}
	req.Header.Set("Content-Type", ContentTypeX12)
	req.Header.Set("X-Claim-Number", s.ClaimNumber)
	req.Header.Set("X-Claim-Timestamp", t.now().UTC().Format(time.RFC3339))
	if t.secret != "" {
		req.Header.Set("X-Claim-Signature", "sha256="+SignPayload(s.Content, t.secret))
	}
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("clearinghouse: post %s: %w", s.ClaimNumber, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(statusErr)
	}
	return statusErr
}
