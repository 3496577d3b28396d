package extract

import (
	"encoding/base64"

	"google.golang.org/api/gmail/v1"
)

// Source tags how a message entered the pipeline
type Source string

const (
	SourcePush   Source = "push"
	SourceManual Source = "manual"
	SourceRelay  Source = "relay"
)

// NoTextFound is the body sentinel when a message carries no readable part
const NoTextFound = "(no text found)"

// Message is the resolved, forward-ready representation of an email
type Message struct {
	// ID is the provider message identifier; internal provenance only,
	// never part of the forwarded payload.
	ID string `json:"-"`

	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	TextBody string `json:"textBody"`
	HTMLBody string `json:"htmlBody,omitempty"`
	Source   Source `json:"source"`
}

// PreferredBody returns the plain-text body when one exists, else the
// generic body field (stripped HTML or the sentinel).
func (m *Message) PreferredBody() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	return m.Body
}

// Extract walks a multipart payload tree and returns the first plain-text
// and first HTML bodies encountered in depth-first order. Later parts of
// the same media type are ignored.
func Extract(payload *gmail.MessagePart) (text, html string) {
	if payload == nil {
		return "", ""
	}

	// A top-level inline body seeds the matching media type. Anything
	// else with data is treated as provisional plain text.
	if payload.Body != nil && payload.Body.Data != "" {
		decoded := decodeBody(payload.Body.Data)
		switch payload.MimeType {
		case "text/plain":
			text = decoded
		case "text/html":
			html = decoded
		default:
			text = decoded
		}
	}

	nestedText, nestedHTML := fromParts(payload.Parts)
	if text == "" {
		text = nestedText
	}
	if html == "" {
		html = nestedHTML
	}
	return text, html
}

// Body resolves the forwarded body field: plain text, else stripped HTML,
// else the sentinel. Never empty.
func Body(text, html string) string {
	if text != "" {
		return text
	}
	if html != "" {
		if stripped := ToPlainText(html); stripped != "" {
			return stripped
		}
	}
	return NoTextFound
}

func fromParts(parts []*gmail.MessagePart) (text, html string) {
	for _, part := range parts {
		if part.Body != nil && part.Body.Data != "" {
			switch part.MimeType {
			case "text/plain":
				if text == "" {
					text = decodeBody(part.Body.Data)
				}
			case "text/html":
				if html == "" {
					html = decodeBody(part.Body.Data)
				}
			}
		}

		if len(part.Parts) > 0 {
			nestedText, nestedHTML := fromParts(part.Parts)
			if text == "" {
				text = nestedText
			}
			if html == "" {
				html = nestedHTML
			}
		}

		if text != "" && html != "" {
			break
		}
	}
	return text, html
}

// decodeBody decodes a base64url part body, padded or unpadded, falling
// back to standard base64. Malformed encodings yield an empty string
// rather than failing the whole extraction.
func decodeBody(data string) string {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	return ""
}
