// Package forward fans a resolved message out to the configured sinks.
// Every sink is optional and best-effort: a failing sink is logged and
// never blocks its siblings or the caller.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arjunkmrm/intern/internal/extract"
)

// Broadcaster is the cross-process live-update transport.
type Broadcaster interface {
	PublishForwarded(msg *extract.Message, dedupKey string) error
}

// AgentRelay delivers a message to the stateful agent collaborator.
type AgentRelay interface {
	Relay(ctx context.Context, msg *extract.Message) error
}

// Forwarder delivers each message independently to the live hub, the
// broadcast transport, the legacy webhook, and the agent relay. A nil or
// empty sink field disables that sink.
type Forwarder struct {
	Hub        *Hub
	Stream     Broadcaster
	WebhookURL string
	Agent      AgentRelay

	client *http.Client
}

// Forward delivers the message to every configured sink. Sink failures
// are isolated per sink per message and logged, never returned.
func (f *Forwarder) Forward(ctx context.Context, msg *extract.Message) {
	if f.Hub != nil {
		f.Hub.Publish(msg)
	}

	if f.Stream != nil {
		if err := f.Stream.PublishForwarded(msg, dedupKey(msg)); err != nil {
			log.Printf("forward: broadcast failed for %q: %v", msg.Subject, err)
		}
	}

	if f.WebhookURL != "" {
		if err := f.postWebhook(ctx, msg); err != nil {
			log.Printf("forward: webhook failed for %q: %v", msg.Subject, err)
		}
	}

	if f.Agent != nil {
		if err := f.Agent.Relay(ctx, msg); err != nil {
			log.Printf("forward: agent relay failed for %q: %v", msg.Subject, err)
		}
	}
}

// postWebhook sends the extracted message as a single JSON POST. Not
// retried.
func (f *Forwarder) postWebhook(ctx context.Context, msg *extract.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bad status %d", resp.StatusCode)
	}
	return nil
}

func (f *Forwarder) httpClient() *http.Client {
	if f.client == nil {
		f.client = &http.Client{Timeout: 15 * time.Second}
	}
	return f.client
}

func dedupKey(msg *extract.Message) string {
	if msg.ID != "" {
		return fmt.Sprintf("mail.forwarded|%s", msg.ID)
	}
	return uuid.NewString()
}
