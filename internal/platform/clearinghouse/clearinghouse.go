// Package clearinghouse hands finished 837 transactions to the outbound
// transport: a signed HTTP POST, an SQS notification, or nothing.
package clearinghouse

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Submission is one encoded claim ready for the clearinghouse.
type Submission struct {
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	Location    string `json:"location"`
	Content     []byte `json:"-"`
}

// Transport delivers a submission. Implementations must be safe for
// concurrent use.
type Transport interface {
	Submit(ctx context.Context, s Submission) error
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature (with or without the "sha256="
// prefix) matches payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// Noop accepts every submission and only logs it.
type Noop struct {
	Logger zerolog.Logger
}

func (n Noop) Submit(_ context.Context, s Submission) error {
	n.Logger.Debug().Str("claim_number", s.ClaimNumber).Str("location", s.Location).
		Msg("clearinghouse transport disabled, submission not sent")
	return nil
}

// Config selects and configures a transport.
type Config struct {
	Mode     string
	URL      string
	Username string
	Password string
	Secret   string
	QueueURL string
}

// New builds the transport for cfg.Mode. The sqs client is only used in sqs
// mode and may be nil otherwise.
func New(cfg Config, sqsClient SQSAPI, logger zerolog.Logger) (Transport, error) {
	switch cfg.Mode {
	case "", "none":
		return Noop{Logger: logger}, nil
	case "http":
		t, err := NewHTTPTransport(cfg.URL,
			WithBasicAuth(cfg.Username, cfg.Password),
			WithSecret(cfg.Secret),
			WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "sqs":
		if sqsClient == nil {
			return nil, fmt.Errorf("clearinghouse: sqs mode requires an SQS client")
		}
		return NewSQSTransport(sqsClient, cfg.QueueURL), nil
	default:
		return nil, fmt.Errorf("clearinghouse: unknown mode %q", cfg.Mode)
	}
}
