package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunkmrm/intern/internal/extract"
)

// AgentClient relays messages to the stateful agent collaborator under a
// process-lifetime session.
type AgentClient struct {
	baseURL   string
	sessionID string
	client    *http.Client

	mu           sync.Mutex
	sessionReady bool
}

// NewAgentClient creates an agent client with a fresh session handle.
// The session itself is created lazily before the first relay.
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: uuid.NewString(),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SessionID returns the shared session handle.
func (c *AgentClient) SessionID() string {
	return c.sessionID
}

// Relay submits the message as a non-streaming query under the shared
// session, creating the session first if needed.
func (c *AgentClient) Relay(ctx context.Context, msg *extract.Message) error {
	if err := c.ensureSession(ctx); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	body := map[string]interface{}{
		"session_id": c.sessionID,
		"prompt":     BuildPrompt(msg),
		"stream":     false,
	}

	resp, err := c.post(ctx, "/query", body)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("query bad status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// ensureSession creates the shared session on first use. A conflict
// response means the session already exists and counts as success.
func (c *AgentClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionReady {
		return nil
	}

	resp, err := c.post(ctx, "/sessions", map[string]interface{}{
		"session_id": c.sessionID,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusConflict {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create session bad status %d: %s", resp.StatusCode, string(detail))
	}

	c.sessionReady = true
	return nil
}

func (c *AgentClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.client.Do(req)
}

// BuildPrompt renders a message as a structured text block for the agent.
func BuildPrompt(msg *extract.Message) string {
	var b strings.Builder
	b.WriteString("New email received.\n\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)
	b.WriteString(msg.PreferredBody())
	return b.String()
}
