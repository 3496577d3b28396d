package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arjunkmrm/intern/internal/sync"
)

// fakeSyncer records Sync calls and signals each one on a channel.
type fakeSyncer struct {
	hints chan string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{hints: make(chan string, 8)}
}

func (s *fakeSyncer) Sync(ctx context.Context, hint string) (*sync.Result, error) {
	s.hints <- hint
	return &sync.Result{Cursor: hint}, nil
}

func (s *fakeSyncer) await(t *testing.T) string {
	t.Helper()
	select {
	case hint := <-s.hints:
		return hint
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync trigger")
		return ""
	}
}

func (s *fakeSyncer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case hint := <-s.hints:
		t.Fatalf("unexpected sync trigger with hint %q", hint)
	case <-time.After(100 * time.Millisecond):
	}
}

func pushBody(t *testing.T, historyID uint64) []byte {
	t.Helper()
	inner, err := json.Marshal(map[string]interface{}{
		"emailAddress": "me@example.com",
		"historyId":    historyID,
	})
	if err != nil {
		t.Fatalf("marshal inner payload: %v", err)
	}

	outer, err := json.Marshal(map[string]interface{}{
		"message": map[string]string{
			"data":      base64.StdEncoding.EncodeToString(inner),
			"messageId": "pub-1",
		},
		"subscription": "projects/test/subscriptions/mail",
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return outer
}

func newTestRouter(g *Gateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/gmail/push", g.Handle)
	return r
}

func TestHandleAcknowledgesAndSyncs(t *testing.T) {
	syncer := newFakeSyncer()
	router := newTestRouter(NewGateway(syncer))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/gmail/push", bytes.NewReader(pushBody(t, 4711)))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 ack, got %d", w.Code)
	}
	if hint := syncer.await(t); hint != "4711" {
		t.Fatalf("expected hint 4711, got %q", hint)
	}
}

func TestHandleAcknowledgesMalformedEnvelope(t *testing.T) {
	syncer := newFakeSyncer()
	router := newTestRouter(NewGateway(syncer))

	for _, body := range []string{
		"not json",
		`{"message":{"data":"!!!not-base64!!!"}}`,
		`{"message":{"data":""}}`,
		`{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("{}")) + `"}}`,
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/gmail/push", bytes.NewReader([]byte(body)))
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("expected unconditional ack for %q, got %d", body, w.Code)
		}
	}

	syncer.expectNone(t)
}

func TestHandleDuplicateDelivery(t *testing.T) {
	syncer := newFakeSyncer()
	router := newTestRouter(NewGateway(syncer))

	body := pushBody(t, 4711)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/gmail/push", bytes.NewReader(body))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204 ack, got %d", w.Code)
		}
	}

	// Both deliveries trigger a pass; dedup is the engine's job via the
	// persisted cursor.
	if hint := syncer.await(t); hint != "4711" {
		t.Fatalf("expected hint 4711, got %q", hint)
	}
	if hint := syncer.await(t); hint != "4711" {
		t.Fatalf("expected hint 4711 on duplicate, got %q", hint)
	}
}

func TestDecodeHint(t *testing.T) {
	inner, _ := json.Marshal(changeHint{EmailAddress: "me@example.com", HistoryID: 99})
	env := envelope{}
	env.Message.Data = base64.StdEncoding.EncodeToString(inner)

	hint, ok := decodeHint(env)
	if !ok || hint != "99" {
		t.Fatalf("expected hint 99, got %q ok=%v", hint, ok)
	}
}
