package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arjunkmrm/intern/internal/auth"
	"github.com/arjunkmrm/intern/internal/config"
	"github.com/arjunkmrm/intern/internal/cursor"
	"github.com/arjunkmrm/intern/internal/extract"
	"github.com/arjunkmrm/intern/internal/forward"
	natsjs "github.com/arjunkmrm/intern/internal/nats"
	"github.com/arjunkmrm/intern/internal/providers/gmail"
	"github.com/arjunkmrm/intern/internal/providers/outlook"
	"github.com/arjunkmrm/intern/internal/push"
	"github.com/arjunkmrm/intern/internal/sync"
)

func main() {
	cfg, err := config.Load("intern.yaml")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	source, providerName := connectProvider(ctx, cfg)

	store, err := cursor.Open(filepath.Join(cfg.DataDir, "cursor.db"), providerName)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	hub := forward.NewHub()
	forwarder := &forward.Forwarder{Hub: hub, WebhookURL: cfg.WebhookURL}

	if cfg.NATSURL != "" {
		publisher, err := natsjs.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal(err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal(err)
		}
		forwarder.Stream = publisher
	}

	if cfg.AgentURL != "" {
		agent := forward.NewAgentClient(cfg.AgentURL)
		log.Printf("agent relay enabled, session %s", agent.SessionID())
		forwarder.Agent = agent
	}
	engine := sync.NewEngine(source, store, forwarder)
	gateway := push.NewGateway(engine)

	r := gin.Default()

	// Push delivery acknowledges unconditionally, so it stays outside
	// the auth group.
	r.POST("/gmail/push", gateway.Handle)

	api := r.Group("/")
	if cfg.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(cfg.JWKSURL)
		if err != nil {
			log.Fatal(err)
		}
		api.Use(authMiddleware(verifier))
	}

	// Manual trigger: forward the single most recent unread message,
	// independent of the cursor.
	api.GET("/messages/latest", func(c *gin.Context) {
		if source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected"})
			return
		}

		msg, err := source.LatestUnread(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if msg == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no unread messages"})
			return
		}

		msg.Source = extract.SourceManual
		forwarder.Forward(c.Request.Context(), msg)
		c.JSON(http.StatusOK, msg)
	})

	// Externally-relayed messages enter the same fan-out path.
	api.POST("/relay", func(c *gin.Context) {
		var msg extract.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg.Source = extract.SourceRelay
		if msg.Body == "" {
			msg.Body = extract.Body(msg.TextBody, msg.HTMLBody)
		}

		forwarder.Forward(c.Request.Context(), &msg)
		c.JSON(http.StatusAccepted, gin.H{"status": "forwarded"})
	})

	api.GET("/events", func(c *gin.Context) {
		streamEvents(c, hub)
	})

	api.GET("/status", func(c *gin.Context) {
		state := store.Load(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"connected":      source != nil,
			"provider":       providerName,
			"cursor":         state.Cursor,
			"status":         state.Status,
			"last_error":     state.LastError,
			"last_synced_at": state.LastSyncedAt,
			"subscribers":    hub.Count(),
		})
	})

	log.Fatal(r.Run(cfg.ListenAddr))
}

// connectProvider builds the configured mailbox source. A missing or
// failing provider leaves the service running in not-connected mode.
func connectProvider(ctx context.Context, cfg *config.Config) (sync.Source, string) {
	if cfg.Provider == "" {
		log.Printf("no mailbox provider configured, running not connected")
		return nil, "NONE"
	}

	tokens := auth.NewTokenClient(cfg.AuthServerURL, cfg.UserJWT)

	switch cfg.Provider {
	case "google":
		tok, err := tokens.GetToken(ctx, auth.ProviderGoogle)
		if err != nil {
			log.Printf("gmail token fetch failed, running not connected: %v", err)
			return nil, string(sync.ProviderGoogle)
		}
		adapter, err := gmail.New(ctx, tok)
		if err != nil {
			log.Printf("gmail adapter failed, running not connected: %v", err)
			return nil, string(sync.ProviderGoogle)
		}
		return adapter, string(sync.ProviderGoogle)

	case "microsoft":
		tok, err := tokens.GetToken(ctx, auth.ProviderMicrosoft)
		if err != nil {
			log.Printf("outlook token fetch failed, running not connected: %v", err)
			return nil, string(sync.ProviderMicrosoft)
		}
		adapter, err := outlook.New(ctx, tok, cfg.UserID)
		if err != nil {
			log.Printf("outlook adapter failed, running not connected: %v", err)
			return nil, string(sync.ProviderMicrosoft)
		}
		return adapter, string(sync.ProviderMicrosoft)

	default:
		log.Printf("unsupported provider %q, running not connected", cfg.Provider)
		return nil, "NONE"
	}
}

// streamEvents serves the live subscriber feed as server-sent events
// with periodic heartbeats. The subscriber is removed when the client
// disconnects.
func streamEvents(c *gin.Context, hub *forward.Hub) {
	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("message", msg)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func authMiddleware(verifier *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}
