// Package gmail wraps the Gmail API calls the triage pipeline needs:
// search, read, label, reply and draft.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	gm "google.golang.org/api/gmail/v1"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// MessageSummary is one search hit.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// FullMessage is a decoded message with the headers needed for threading.
type FullMessage struct {
	ID         string   `json:"id"`
	ThreadID   string   `json:"thread_id"`
	MessageID  string   `json:"message_id,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References string   `json:"references,omitempty"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	CC         string   `json:"cc,omitempty"`
	Subject    string   `json:"subject"`
	Date       string   `json:"date"`
	Body       string   `json:"body"`
	Labels     []string `json:"labels,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`

	Attachments  []AttachmentInfo `json:"attachments,omitempty"`
	SizeEstimate int64            `json:"size_estimate,omitempty"`
	// InternalDate is Gmail's receive time in epoch milliseconds, the
	// clock that after: searches use.
	InternalDate int64 `json:"internal_date,omitempty"`
}

// AttachmentInfo holds metadata about a message attachment.
type AttachmentInfo struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Search finds messages matching a Gmail query and returns summaries.
func Search(ctx context.Context, svc *gm.Service, query string, maxResults int64) ([]MessageSummary, error) {
	resp, err := svc.Users.Messages.List("me").
		Q(query).
		MaxResults(maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	summaries := make([]MessageSummary, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		detail, err := svc.Users.Messages.Get("me", msg.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			// Skip individual message failures.
			continue
		}

		headers := headerMap(detail.Payload.Headers)
		summaries = append(summaries, MessageSummary{
			ID:       detail.Id,
			ThreadID: detail.ThreadId,
			From:     headers["from"],
			To:       headers["to"],
			Subject:  headers["subject"],
			Date:     headers["date"],
			Snippet:  detail.Snippet,
		})
	}
	return summaries, nil
}

var errStopPaging = errors.New("stop paging")

// ListMessageIDs pages through a query, returning at most limit IDs
// (0 = all) newest first, as Gmail orders them.
func ListMessageIDs(ctx context.Context, svc *gm.Service, query string, limit int) ([]string, error) {
	var ids []string
	err := svc.Users.Messages.List("me").Q(query).MaxResults(100).
		Pages(ctx, func(resp *gm.ListMessagesResponse) error {
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
				if limit > 0 && len(ids) >= limit {
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return ids, nil
}

// ReadFull fetches a complete message by ID, decoding the body.
func ReadFull(ctx context.Context, svc *gm.Service, messageID string) (*FullMessage, error) {
	msg, err := svc.Users.Messages.Get("me", messageID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}

	headers := headerMap(msg.Payload.Headers)
	return &FullMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		MessageID:    headers["message-id"],
		InReplyTo:    headers["in-reply-to"],
		References:   headers["references"],
		From:         headers["from"],
		To:           headers["to"],
		CC:           headers["cc"],
		Subject:      headers["subject"],
		Date:         headers["date"],
		Body:         extractBody(msg.Payload),
		Labels:       msg.LabelIds,
		Snippet:      msg.Snippet,
		Attachments:  extractAttachments(msg.Payload),
		SizeEstimate: msg.SizeEstimate,
		InternalDate: msg.InternalDate,
	}, nil
}

// ToMessage converts a fetched message into the pipeline's Message. The
// receipt time is Gmail's internal date, else the Date header, else fallback.
func (f *FullMessage) ToMessage(fallback time.Time) *types.Message {
	received := fallback
	if f.InternalDate > 0 {
		received = time.UnixMilli(f.InternalDate)
	} else if t, err := mail.ParseDate(f.Date); err == nil {
		received = t
	}
	return &types.Message{
		ID:                f.ID,
		ProtocolMessageID: f.MessageID,
		InReplyTo:         firstID(f.InReplyTo),
		Subject:           f.Subject,
		From:              f.From,
		To:                f.To,
		ReceivedAt:        received.UTC(),
		BodyText:          f.Body,
		Labels:            append([]string(nil), f.Labels...),
	}
}

// firstID returns the first <...> token of an In-Reply-To header.
func firstID(h string) string {
	h = strings.TrimSpace(h)
	if i := strings.Index(h, ">"); i >= 0 && strings.HasPrefix(h, "<") {
		return h[:i+1]
	}
	return h
}

// LabelCache maps label names to Gmail label IDs, creating missing labels.
type LabelCache struct {
	svc *gm.Service

	mu  sync.Mutex
	ids map[string]string
}

// NewLabelCache creates an empty cache for svc.
func NewLabelCache(svc *gm.Service) *LabelCache {
	return &LabelCache{svc: svc}
}

// ID returns the label ID for name, creating the label if needed.
func (c *LabelCache) ID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ids == nil {
		resp, err := c.svc.Users.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("list labels: %w", err)
		}
		c.ids = make(map[string]string, len(resp.Labels))
		for _, l := range resp.Labels {
			c.ids[strings.ToLower(l.Name)] = l.Id
		}
	}
	if id, ok := c.ids[strings.ToLower(name)]; ok {
		return id, nil
	}

	created, err := c.svc.Users.Labels.Create("me", &gm.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	c.ids[strings.ToLower(name)] = created.Id
	return created.Id, nil
}

// AddLabels applies label IDs to a message.
func AddLabels(ctx context.Context, svc *gm.Service, messageID string, labelIDs ...string) error {
	_, err := svc.Users.Messages.Modify("me", messageID, &gm.ModifyMessageRequest{
		AddLabelIds: labelIDs,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("modify labels on %s: %w", messageID, err)
	}
	return nil
}

// BuildReply composes an RFC 2822 reply to orig.
func BuildReply(orig *FullMessage, body string) string {
	subject := orig.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	refs := strings.TrimSpace(orig.References + " " + orig.MessageID)

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", orig.From)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if orig.MessageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", orig.MessageID)
		fmt.Fprintf(&b, "References: %s\r\n", refs)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

// SendReply sends a reply in the original message's thread.
func SendReply(ctx context.Context, svc *gm.Service, orig *FullMessage, body string) (string, error) {
	sent, err := svc.Users.Messages.Send("me", &gm.Message{
		Raw:      encodeRaw(BuildReply(orig, body)),
		ThreadId: orig.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send reply to %s: %w", orig.ID, err)
	}
	return sent.Id, nil
}

// CreateDraft saves a reply draft in the original message's thread.
func CreateDraft(ctx context.Context, svc *gm.Service, orig *FullMessage, body string) (string, error) {
	draft, err := svc.Users.Drafts.Create("me", &gm.Draft{
		Message: &gm.Message{
			Raw:      encodeRaw(BuildReply(orig, body)),
			ThreadId: orig.ThreadID,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create draft for %s: %w", orig.ID, err)
	}
	return draft.Id, nil
}

// extractBody gets the plain text body from a message payload, preferring
// text/plain over text/html at every level.
func extractBody(payload *gm.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" && len(payload.Parts) == 0 {
		if decoded, err := decodeBase64URL(payload.Body.Data); err == nil {
			return decoded
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
				return decoded
			}
		}
	}
	return ""
}

func extractAttachments(payload *gm.MessagePart) []AttachmentInfo {
	if payload == nil {
		return nil
	}
	var attachments []AttachmentInfo
	var scan func(parts []*gm.MessagePart)
	scan = func(parts []*gm.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" {
				att := AttachmentInfo{Filename: part.Filename, MimeType: part.MimeType}
				if part.Body != nil {
					att.Size = part.Body.Size
					att.AttachmentID = part.Body.AttachmentId
				}
				attachments = append(attachments, att)
			}
			scan(part.Parts)
		}
	}
	scan(payload.Parts)
	return attachments
}

// headerMap converts Gmail API headers into a map keyed by lowercase name.
func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

// decodeBase64URL decodes Gmail's base64url content, padded or not.
func decodeBase64URL(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func encodeRaw(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
