// Package thread correlates inbound messages into conversations.
//
// A message joins an existing thread when its In-Reply-To header names a
// message already in that thread. Failing that, it joins the most recently
// active thread with the same normalized subject and at least one shared
// participant. Otherwise a new thread is created.
package thread

import (
	"crypto/rand"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// DefaultFollowUpThreshold is how long a thread can sit before a message is
// considered a follow-up.
const DefaultFollowUpThreshold = 72 * time.Hour

// Options configures a Detector.
type Options struct {
	FollowUpThreshold time.Duration

	// Capacity bounds the number of threads kept. When exceeded, the least
	// recently active thread is evicted. Zero means unbounded.
	Capacity int

	// OnEvict is called, outside the lock, for every evicted thread.
	OnEvict func(*types.Thread)

	// Now is the clock used for new thread IDs and zero timestamps.
	Now func() time.Time
}

// Stats is an aggregate view of the index.
type Stats struct {
	TotalThreads    int     `json:"total_threads"`
	TotalEmails     int     `json:"total_emails"`
	AvgThreadLength float64 `json:"avg_thread_length"`
}

// Detector is an in-memory thread index. Safe for concurrent use.
type Detector struct {
	mu   sync.Mutex
	opts Options

	threads   map[string]*types.Thread
	byReplyID map[string]string   // protocol message ID -> thread ID
	byMsgID   map[string]string   // message ID -> thread ID
	bySubject map[string][]string // normalized subject -> thread IDs
	senders   map[string]int      // sender address -> indexed message count
	msgFrom   map[string]string   // message ID -> sender address

	entropy io.Reader
}

// NewDetector creates an empty detector.
func NewDetector(opts Options) *Detector {
	if opts.FollowUpThreshold <= 0 {
		opts.FollowUpThreshold = DefaultFollowUpThreshold
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		opts:      opts,
		threads:   make(map[string]*types.Thread),
		byReplyID: make(map[string]string),
		byMsgID:   make(map[string]string),
		bySubject: make(map[string][]string),
		senders:   make(map[string]int),
		msgFrom:   make(map[string]string),
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*(\[\d+\])?\s*[:\s]\s*`)

// StripPrefixes removes any leading run of Re:/Fwd:/FW: tokens.
func StripPrefixes(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		loc := replyPrefix.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			return s
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
}

// NormalizeSubject returns the comparison key for a subject line.
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(StripPrefixes(subject)), " "))
}

// Detect assigns msg to a thread and returns the thread ID. A message ID that
// is already indexed returns its existing thread unchanged.
func (d *Detector) Detect(msg *types.Message) string {
	var evicted []*types.Thread
	d.mu.Lock()
	id := d.detectLocked(msg, &evicted)
	d.mu.Unlock()

	if d.opts.OnEvict != nil {
		for _, t := range evicted {
			d.opts.OnEvict(t)
		}
	}
	return id
}

// Restore re-indexes a previously detected message under its known thread
// ID, so IDs stay stable across process restarts. Messages must be restored
// in arrival order.
func (d *Detector) Restore(threadID string, msg *types.Message) {
	if threadID == "" {
		d.Detect(msg)
		return
	}
	var evicted []*types.Thread
	d.mu.Lock()
	if _, ok := d.byMsgID[msg.ID]; !ok || msg.ID == "" {
		t, ok := d.threads[threadID]
		if !ok {
			t = &types.Thread{ThreadID: threadID, Subject: StripPrefixes(msg.Subject)}
			d.threads[threadID] = t
			if key := NormalizeSubject(msg.Subject); key != "" {
				d.bySubject[key] = append(d.bySubject[key], threadID)
			}
		}
		d.appendLocked(t, msg)
		evicted = d.evictLocked(threadID)
	}
	d.mu.Unlock()

	if d.opts.OnEvict != nil {
		for _, t := range evicted {
			d.opts.OnEvict(t)
		}
	}
}

// Match returns the thread msg would join, without indexing it.
func (d *Detector) Match(msg *types.Message) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg.ID != "" {
		if id, ok := d.byMsgID[msg.ID]; ok {
			return id, true
		}
	}
	if t := d.matchLocked(msg); t != nil {
		return t.ThreadID, true
	}
	return "", false
}

func (d *Detector) detectLocked(msg *types.Message, evicted *[]*types.Thread) string {
	if msg.ID != "" {
		if id, ok := d.byMsgID[msg.ID]; ok {
			return id
		}
	}

	t := d.matchLocked(msg)
	if t == nil {
		t = d.createLocked(msg, NormalizeSubject(msg.Subject))
	}
	d.appendLocked(t, msg)
	*evicted = d.evictLocked(t.ThreadID)
	return t.ThreadID
}

// matchLocked resolves the reply header first, then the subject.
func (d *Detector) matchLocked(msg *types.Message) *types.Thread {
	if msg.InReplyTo != "" {
		if id, ok := d.byReplyID[msg.InReplyTo]; ok {
			if t := d.threads[id]; t != nil {
				return t
			}
		}
	}
	if key := NormalizeSubject(msg.Subject); key != "" {
		return d.matchSubjectLocked(key, participants(msg))
	}
	return nil
}

func (d *Detector) matchSubjectLocked(key string, people []string) *types.Thread {
	var best *types.Thread
	for _, id := range d.bySubject[key] {
		t := d.threads[id]
		if t == nil || !overlaps(t.Participants, people) {
			continue
		}
		if best == nil || t.LastActivityAt.After(best.LastActivityAt) {
			best = t
		}
	}
	return best
}

func (d *Detector) createLocked(msg *types.Message, key string) *types.Thread {
	t := &types.Thread{
		ThreadID: d.newID(),
		Subject:  StripPrefixes(msg.Subject),
	}
	d.threads[t.ThreadID] = t
	if key != "" {
		d.bySubject[key] = append(d.bySubject[key], t.ThreadID)
	}
	return t
}

func (d *Detector) appendLocked(t *types.Thread, msg *types.Message) {
	t.Emails = append(t.Emails, msg)
	t.EmailCount = len(t.Emails)
	for _, p := range participants(msg) {
		if !contains(t.Participants, p) {
			t.Participants = append(t.Participants, p)
		}
	}
	at := msg.ReceivedAt
	if at.IsZero() {
		at = d.opts.Now()
	}
	if at.After(t.LastActivityAt) {
		t.LastActivityAt = at
	}

	if msg.ID != "" {
		d.byMsgID[msg.ID] = t.ThreadID
		if from := types.NormalizeAddress(msg.From); from != "" {
			d.msgFrom[msg.ID] = from
			d.senders[from]++
		}
	}
	if msg.ProtocolMessageID != "" {
		d.byReplyID[msg.ProtocolMessageID] = t.ThreadID
	}
}

// evictLocked drops least recently active threads until within capacity.
// The thread identified by keep is never evicted.
func (d *Detector) evictLocked(keep string) []*types.Thread {
	if d.opts.Capacity == 0 {
		return nil
	}
	var out []*types.Thread
	for len(d.threads) > d.opts.Capacity {
		var victim *types.Thread
		for id, t := range d.threads {
			if id == keep {
				continue
			}
			if victim == nil || t.LastActivityAt.Before(victim.LastActivityAt) ||
				(t.LastActivityAt.Equal(victim.LastActivityAt) && t.ThreadID < victim.ThreadID) {
				victim = t
			}
		}
		if victim == nil {
			break
		}
		d.removeLocked(victim)
		out = append(out, victim)
	}
	return out
}

func (d *Detector) removeLocked(t *types.Thread) {
	delete(d.threads, t.ThreadID)
	for _, m := range t.Emails {
		if m.ID != "" {
			delete(d.byMsgID, m.ID)
			if from, ok := d.msgFrom[m.ID]; ok {
				delete(d.msgFrom, m.ID)
				if d.senders[from]--; d.senders[from] <= 0 {
					delete(d.senders, from)
				}
			}
		}
		if m.ProtocolMessageID != "" && d.byReplyID[m.ProtocolMessageID] == t.ThreadID {
			delete(d.byReplyID, m.ProtocolMessageID)
		}
	}
	key := NormalizeSubject(t.Subject)
	ids := d.bySubject[key]
	for i, id := range ids {
		if id == t.ThreadID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(d.bySubject, key)
	} else {
		d.bySubject[key] = ids
	}
}

func (d *Detector) newID() string {
	id, err := ulid.New(ulid.Timestamp(d.opts.Now()), d.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// Get returns a snapshot of the thread, or false if it is unknown.
func (d *Detector) Get(threadID string) (*types.Thread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.threads[threadID]
	if !ok {
		return nil, false
	}
	return clone(t), true
}

// Active returns up to n threads sorted by last activity, newest first.
// n <= 0 returns every thread.
func (d *Detector) Active(n int) []*types.Thread {
	d.mu.Lock()
	out := make([]*types.Thread, 0, len(d.threads))
	for _, t := range d.threads {
		out = append(out, clone(t))
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ThreadID > out[j].ThreadID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// IsFollowUp reports whether msg arrives on a stale thread: the most recent
// message before it, from any participant, is older than the follow-up
// threshold.
func (d *Detector) IsFollowUp(msg *types.Message, threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.threads[threadID]
	if !ok {
		return false
	}
	var prior *types.Message
	for _, m := range t.Emails {
		if m == msg || (msg.ID != "" && m.ID == msg.ID) {
			break
		}
		prior = m
	}
	if prior == nil {
		return false
	}
	at := msg.ReceivedAt
	if at.IsZero() {
		at = d.opts.Now()
	}
	return at.Sub(prior.ReceivedAt) > d.opts.FollowUpThreshold
}

// SenderSeen reports whether any indexed message other than excludeID came
// from addr.
func (d *Detector) SenderSeen(addr, excludeID string) bool {
	addr = types.NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.senders[addr]
	if excludeID != "" && d.msgFrom[excludeID] == addr {
		n--
	}
	return n > 0
}

// Statistics returns thread and email totals.
func (d *Detector) Statistics() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{TotalThreads: len(d.threads)}
	for _, t := range d.threads {
		s.TotalEmails += t.EmailCount
	}
	if s.TotalThreads > 0 {
		s.AvgThreadLength = float64(s.TotalEmails) / float64(s.TotalThreads)
	}
	return s
}

func participants(msg *types.Message) []string {
	var out []string
	if from := types.NormalizeAddress(msg.From); from != "" {
		out = append(out, from)
	}
	for _, a := range types.SplitAddresses(msg.To) {
		if !contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range b {
		if contains(a, x) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clone(t *types.Thread) *types.Thread {
	c := *t
	c.Participants = append([]string(nil), t.Participants...)
	c.Emails = append([]*types.Message(nil), t.Emails...)
	return &c
}
