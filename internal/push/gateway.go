// Package push accepts inbound change notifications. Delivery is
// at-least-once and unordered, so the gateway acknowledges before doing
// any work and treats the position hint as a lower bound only.
package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arjunkmrm/intern/internal/sync"
)

// Syncer runs one sync pass from the persisted cursor or hint.
type Syncer interface {
	Sync(ctx context.Context, hint string) (*sync.Result, error)
}

// Gateway decodes push envelopes and triggers sync passes.
type Gateway struct {
	syncer Syncer
}

// NewGateway creates a push gateway.
func NewGateway(syncer Syncer) *Gateway {
	return &Gateway{syncer: syncer}
}

type envelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type changeHint struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Handle is the push endpoint. The transport retries on non-2xx or
// timeout, so the acknowledgment is unconditional and immediate;
// processing happens after the response.
func (g *Gateway) Handle(c *gin.Context) {
	var env envelope
	err := c.ShouldBindJSON(&env)

	c.Status(http.StatusNoContent)

	if err != nil {
		log.Printf("push: malformed envelope, discarding: %v", err)
		return
	}

	hint, ok := decodeHint(env)
	if !ok {
		return
	}

	go g.process(hint)
}

func (g *Gateway) process(hint string) {
	if _, err := g.syncer.Sync(context.Background(), hint); err != nil {
		log.Printf("push: sync from hint %s failed: %v", hint, err)
	}
}

// decodeHint extracts the change-log position hint from the envelope's
// base64 inner payload. Missing or malformed hints discard the
// notification silently.
func decodeHint(env envelope) (string, bool) {
	if env.Message.Data == "" {
		return "", false
	}

	inner, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		log.Printf("push: malformed envelope data, discarding: %v", err)
		return "", false
	}

	var hint changeHint
	if err := json.Unmarshal(inner, &hint); err != nil {
		log.Printf("push: malformed envelope payload, discarding: %v", err)
		return "", false
	}

	if hint.HistoryID == 0 {
		return "", false
	}
	return strconv.FormatUint(hint.HistoryID, 10), true
}
