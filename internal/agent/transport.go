package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// Transport carries job envelopes to the remote agent. Implementations are
// selected once per server configuration and never mixed per call.
type Transport interface {
	// Send dispatches a job without waiting for a result.
	Send(ctx context.Context, job *Job) error
	// Request dispatches a job and waits up to timeout for the reply body.
	Request(ctx context.Context, job *Job, timeout time.Duration) ([]byte, error)
}

// RemoteError is a non-2xx reply from the agent. The body text is surfaced
// to the user as a validation error.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("agent returned status %d", e.StatusCode)
}

// WebhookTransport posts job envelopes to the agent's HTTP endpoint.
type WebhookTransport struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	instanceUID string
}

// NewWebhookTransport creates a webhook transport for the given agent URL.
// apiKey and instanceUID authenticate this instance with the agent.
func NewWebhookTransport(baseURL, apiKey, instanceUID string) *WebhookTransport {
	return &WebhookTransport{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		instanceUID: instanceUID,
	}
}

// Send posts the job and discards the reply body.
func (t *WebhookTransport) Send(ctx context.Context, job *Job) error {
	_, err := t.post(ctx, job, 0)
	return err
}

// Request posts the job and returns the reply body.
func (t *WebhookTransport) Request(ctx context.Context, job *Job, timeout time.Duration) ([]byte, error) {
	return t.post(ctx, job, timeout)
}

func (t *WebhookTransport) post(ctx context.Context, job *Job, timeout time.Duration) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("agent: marshalling job: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/agent", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)
	req.Header.Set("x-instance-uid", t.instanceUID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("agent: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// NATSTransport carries job envelopes over a NATS connection. The job's Fun
// doubles as the subject.
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport wraps an established NATS connection.
func NewNATSTransport(nc *nats.Conn) *NATSTransport {
	return &NATSTransport{nc: nc}
}

// Connect dials the NATS server at url and returns a transport over it.
func Connect(url string) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("agent: connecting to nats: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// Send publishes the job without waiting for a reply.
func (t *NATSTransport) Send(_ context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("agent: marshalling job: %w", err)
	}
	if err := t.nc.Publish(job.Fun, data); err != nil {
		return fmt.Errorf("agent: publishing job: %w", err)
	}
	return nil
}

// Request publishes the job and waits up to timeout for the reply. Timeout
// expiry is a failure, never a hang.
func (t *NATSTransport) Request(ctx context.Context, job *Job, timeout time.Duration) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("agent: marshalling job: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := t.nc.RequestWithContext(ctx, job.Fun, data)
	if err != nil {
		return nil, fmt.Errorf("agent: nats request %q: %w", job.Fun, err)
	}
	return msg.Data, nil
}

// Close drains the underlying connection.
func (t *NATSTransport) Close() {
	t.nc.Close()
}
