package outlook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/arjunkmrm/intern/internal/auth"
	"github.com/arjunkmrm/intern/internal/extract"
	"github.com/arjunkmrm/intern/internal/sync"
)

// Adapter implements sync.Source for Outlook via Microsoft Graph. Graph
// has no numeric history log, so the change position is the receive
// timestamp (unix seconds) of the newest message seen.
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	userID string
}

// New creates a new Outlook adapter
func New(ctx context.Context, tok *auth.Token, userID string) (*Adapter, error) {
	cred := &staticTokenCredential{token: tok.AccessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &Adapter{
		client: client,
		userID: userID,
	}, nil
}

// Changes lists messages received after the start position. Each message
// maps to one change record carrying its own id.
func (a *Adapter) Changes(ctx context.Context, start string, fn func([]sync.ChangeRecord) error) error {
	startSec, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid position in cursor %q: %w", start, err)
	}

	since := time.Unix(int64(startSec), 0).UTC().Format(time.RFC3339)
	filter := fmt.Sprintf("receivedDateTime gt %s", since)

	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(100),
			Filter:  &filter,
			Orderby: []string{"receivedDateTime asc"},
			Select:  []string{"id", "receivedDateTime"},
		},
	}

	result, err := a.client.Users().ByUserId(a.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	records := make([]sync.ChangeRecord, 0, len(result.GetValue()))
	for _, msg := range result.GetValue() {
		if msg == nil || msg.GetId() == nil {
			continue
		}
		rec := sync.ChangeRecord{AddedIDs: []string{*msg.GetId()}}
		if rcvd := msg.GetReceivedDateTime(); rcvd != nil {
			rec.ID = uint64(rcvd.Unix())
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil
	}
	return fn(records)
}

// Message fetches the full message and extracts its readable content.
func (a *Adapter) Message(ctx context.Context, id string) (*extract.Message, error) {
	requestConfig := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: []string{"id", "subject", "from", "toRecipients", "body"},
		},
	}

	msg, err := a.client.Users().ByUserId(a.userID).Messages().ByMessageId(id).Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return resolve(msg), nil
}

// LatestUnread returns the single most recent unread message.
func (a *Adapter) LatestUnread(ctx context.Context) (*extract.Message, error) {
	filter := "isRead eq false"
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(1),
			Filter:  &filter,
			Orderby: []string{"receivedDateTime desc"},
			Select:  []string{"id", "subject", "from", "toRecipients", "body"},
		},
	}

	result, err := a.client.Users().ByUserId(a.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}

	messages := result.GetValue()
	if len(messages) == 0 {
		return nil, nil
	}
	return resolve(messages[0]), nil
}

// resolve converts a Graph message into forward-ready form.
func resolve(m models.Messageable) *extract.Message {
	out := &extract.Message{}

	if id := m.GetId(); id != nil {
		out.ID = *id
	}

	if subject := m.GetSubject(); subject != nil {
		out.Subject = *subject
	}

	if from := m.GetFrom(); from != nil {
		if emailAddr := from.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				out.From = *addr
			}
		}
	}

	if to := m.GetToRecipients(); len(to) > 0 {
		if emailAddr := to[0].GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				out.To = *addr
			}
		}
	}

	var text, html string
	if body := m.GetBody(); body != nil && body.GetContent() != nil {
		content := *body.GetContent()
		if bt := body.GetContentType(); bt != nil && *bt == models.HTML_BODYTYPE {
			html = content
		} else {
			text = content
		}
	}

	out.Body = extract.Body(text, html)
	out.TextBody = text
	out.HTMLBody = html
	return out
}

// staticTokenCredential implements Azure credential interface
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

func int32Ptr(i int32) *int32 {
	return &i
}
