// Package notify sends transactional email through a narrow send() contract.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/pkg/retry"
	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("invalid notification message")

type Message struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html"`
	TextBody string `json:"text"`
}

func (m Message) validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// HTTPSender posts messages as JSON to an email delivery API. Transport
// errors, 429 and 5xx answers are retried under the policy.
type HTTPSender struct {
	apiURL     string
	apiToken   string
	from       string
	httpClient *http.Client
	policy     retry.Policy
}

type Option func(*HTTPSender)

func WithRetry(p retry.Policy) Option {
	return func(s *HTTPSender) { s.policy = p }
}

func NewHTTPSender(apiURL, apiToken, from string, opts ...Option) *HTTPSender {
	s := &HTTPSender{
		apiURL:   apiURL,
		apiToken: apiToken,
		from:     from,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		policy: retry.NoRetry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sendResponse struct {
	ID string `json:"id"`
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.From == "" {
		msg.From = s.from
	}
	if err := msg.validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return retry.Value(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.post(ctx, body)
	})
}

func (s *HTTPSender) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("email API returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", err
		}
		return "", retry.Permanent(err)
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	if out.ID == "" {
		return "", retry.Permanent(errors.New("email API returned no message id"))
	}
	return out.ID, nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	logger.Info(ctx, "notification not delivered, logging only", "message_id", id, "to", msg.To, "subject", msg.Subject)
	return id, nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.messages = append(r.messages, msg)
	return fmt.Sprintf("msg-%d", len(r.messages)), nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
