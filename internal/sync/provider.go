package sync

import (
	"context"
	"errors"

	"github.com/arjunkmrm/intern/internal/extract"
)

// ProviderName represents mailbox provider types
type ProviderName string

const (
	ProviderGoogle    ProviderName = "GOOGLE"
	ProviderMicrosoft ProviderName = "MICROSOFT"
)

// ErrNotConnected is returned when a sync or fetch is invoked before a
// mailbox provider has been configured.
var ErrNotConnected = errors.New("mailbox not connected")

// ChangeRecord is one change-log event: its position identifier and the
// message ids its "message added" sub-events carry.
type ChangeRecord struct {
	ID       uint64
	AddedIDs []string
}

// Source is a provider-agnostic view of a remote mailbox change log.
type Source interface {
	// Changes pages the change log from start, invoking fn once per page
	// with that page's records. Only message-added changes are reported.
	Changes(ctx context.Context, start string, fn func([]ChangeRecord) error) error

	// Message resolves a message identifier to its extracted form.
	Message(ctx context.Context, id string) (*extract.Message, error)

	// LatestUnread returns the single most recent unread message, or
	// (nil, nil) when the mailbox has none.
	LatestUnread(ctx context.Context) (*extract.Message, error)
}

// Sink receives resolved messages. Delivery is best-effort; Forward
// never reports sink-level failures to the engine.
type Sink interface {
	Forward(ctx context.Context, msg *extract.Message)
}
