package gmail

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/arjunkmrm/intern/internal/auth"
	"github.com/arjunkmrm/intern/internal/extract"
	"github.com/arjunkmrm/intern/internal/sync"
)

const user = "me"

// Adapter implements sync.Source for Gmail via the History API.
type Adapter struct {
	svc *gmail.Service
}

// New creates a new Gmail adapter
func New(ctx context.Context, tok *auth.Token) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gmail.GmailReadonlyScope},
	}

	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{svc: svc}, nil
}

// Changes pages the history log from start, reporting message-added
// records page by page. An expired or invalid start position surfaces as
// an error; the caller keeps its cursor and retries on the next trigger.
func (a *Adapter) Changes(ctx context.Context, start string, fn func([]sync.ChangeRecord) error) error {
	startHistoryID, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid history ID in cursor %q: %w", start, err)
	}

	call := a.svc.Users.History.List(user).
		StartHistoryId(startHistoryID).
		HistoryTypes("messageAdded").
		MaxResults(100)

	err = call.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		records := make([]sync.ChangeRecord, 0, len(page.History))
		for _, history := range page.History {
			rec := sync.ChangeRecord{ID: history.Id}
			for _, added := range history.MessagesAdded {
				if added.Message != nil {
					rec.AddedIDs = append(rec.AddedIDs, added.Message.Id)
				}
			}
			records = append(records, rec)
		}
		return fn(records)
	})

	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	return nil
}

// Message fetches the full message and extracts its readable content.
func (a *Adapter) Message(ctx context.Context, id string) (*extract.Message, error) {
	full, err := a.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return resolve(full), nil
}

// LatestUnread returns the single most recent unread inbox message.
func (a *Adapter) LatestUnread(ctx context.Context) (*extract.Message, error) {
	list, err := a.svc.Users.Messages.List(user).
		Q("is:unread").
		LabelIds("INBOX").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	if len(list.Messages) == 0 {
		return nil, nil
	}
	return a.Message(ctx, list.Messages[0].Id)
}

// resolve converts a full Gmail message into forward-ready form.
func resolve(m *gmail.Message) *extract.Message {
	headers := make(map[string]string)
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			headers[kv.Name] = kv.Value
		}
	}

	to := headers["To"]
	if to == "" {
		// Mailing lists and BCC deliveries often omit To.
		to = headers["Delivered-To"]
	}

	text, html := extract.Extract(m.Payload)

	return &extract.Message{
		ID:       m.Id,
		From:     headers["From"],
		To:       to,
		Subject:  headers["Subject"],
		Body:     extract.Body(text, html),
		TextBody: text,
		HTMLBody: html,
	}
}
