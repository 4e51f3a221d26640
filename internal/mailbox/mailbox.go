// Package mailbox adapts the Gmail API to the orchestrator's mail source.
package mailbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gm "google.golang.org/api/gmail/v1"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/gmail"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// DefaultLimit caps how many messages one fetch reads. The oldest are kept;
// the rest wait for the next fetch.
const DefaultLimit = 500

// Source reads the inbox and writes labels, replies and drafts back.
type Source struct {
	svc    *gm.Service
	labels *gmail.LabelCache
	log    *logging.Logger

	// Filter is appended to the after: clause. Only the inbox by default,
	// which leaves out drafts, sent-only mail, spam and trash.
	Filter string
	Limit  int

	mu    sync.Mutex
	cache map[string]*gmail.FullMessage
}

// New creates a Source over an authenticated Gmail service.
func New(svc *gm.Service, log *logging.Logger) *Source {
	if log == nil {
		log = logging.Nop()
	}
	return &Source{
		svc:    svc,
		labels: gmail.NewLabelCache(svc),
		log:    log,
		Filter: "in:inbox",
		Limit:  DefaultLimit,
		cache:  make(map[string]*gmail.FullMessage),
	}
}

// Query builds the Gmail search for messages after since.
func Query(since time.Time, filter string) string {
	q := fmt.Sprintf("after:%d", since.Unix())
	if filter != "" {
		q += " " + filter
	}
	return q
}

// FetchNewMessages returns messages received after since, oldest first.
// At most Limit messages are read, starting from the oldest match. A message
// that cannot be read fails the whole fetch so it is not lost.
func (s *Source) FetchNewMessages(ctx context.Context, since time.Time) ([]*types.Message, error) {
	query := Query(since, s.Filter)
	ids, err := gmail.ListMessageIDs(ctx, s.svc, query, 0)
	if err != nil {
		return nil, err
	}
	s.log.Debug("gmail search", "query", query, "hits", len(ids))
	// Search results come newest first.
	if s.Limit > 0 && len(ids) > s.Limit {
		s.log.Warn("backlog exceeds fetch limit", "hits", len(ids), "limit", s.Limit)
		ids = ids[len(ids)-s.Limit:]
	}

	fetchedAt := time.Now().UTC()
	msgs := make([]*types.Message, 0, len(ids))
	for _, id := range ids {
		full, err := gmail.ReadFull(ctx, s.svc, id)
		if err != nil {
			return nil, err
		}
		s.remember(full)
		msgs = append(msgs, full.ToMessage(fetchedAt))
	}
	SortOldestFirst(msgs)
	return msgs, nil
}

// SortOldestFirst orders messages by receipt time, then ID.
func SortOldestFirst(msgs []*types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// ApplyLabel adds a label by name, creating it on first use.
func (s *Source) ApplyLabel(ctx context.Context, messageID, label string) error {
	id, err := s.labels.ID(ctx, label)
	if err != nil {
		return err
	}
	return gmail.AddLabels(ctx, s.svc, messageID, id)
}

// SendReply sends body as a reply in the message's thread.
func (s *Source) SendReply(ctx context.Context, messageID, body string) error {
	orig, err := s.original(ctx, messageID)
	if err != nil {
		return err
	}
	sentID, err := gmail.SendReply(ctx, s.svc, orig, body)
	if err != nil {
		return err
	}
	s.log.Info("reply sent", "message_id", messageID, "sent_id", sentID)
	return nil
}

// SaveDraft stores body as a draft reply for later approval.
func (s *Source) SaveDraft(ctx context.Context, messageID, body string) error {
	orig, err := s.original(ctx, messageID)
	if err != nil {
		return err
	}
	draftID, err := gmail.CreateDraft(ctx, s.svc, orig, body)
	if err != nil {
		return err
	}
	s.log.Info("draft saved", "message_id", messageID, "draft_id", draftID)
	return nil
}

func (s *Source) remember(m *gmail.FullMessage) {
	s.mu.Lock()
	s.cache[m.ID] = m
	s.mu.Unlock()
}

// original returns the headers needed to thread a reply, reading the
// message again if this Source did not fetch it.
func (s *Source) original(ctx context.Context, messageID string) (*gmail.FullMessage, error) {
	s.mu.Lock()
	m, ok := s.cache[messageID]
	s.mu.Unlock()
	if ok {
		return m, nil
	}
	m, err := gmail.ReadFull(ctx, s.svc, messageID)
	if err != nil {
		return nil, err
	}
	s.remember(m)
	return m, nil
}
