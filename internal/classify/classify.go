// Package classify assigns each inbound message exactly one handling tier.
//
// Matching is deterministic keyword matching over subject and body. Checks run
// in a fixed order so that restrictive outcomes always win: malformed input,
// off-limits senders and source-marked messages first, then Tier 1, Tier 4 and
// Tier 3 keyword categories, then waiting-for follow-ups, then Tier 2 routine
// categories. Anything left over is drafted for approval, never auto-sent.
package classify

import (
	"fmt"
	"strings"
	"unicode"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/thread"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// Context is what the classifier knows about a message beyond its content.
type Context struct {
	Thread          *types.Thread
	FirstTimeSender bool
	FollowUp        bool
}

// ContextFor derives the classification context from the thread index.
// The message must already have been passed to Detect.
func ContextFor(d *thread.Detector, msg *types.Message, threadID string) Context {
	c := Context{
		FirstTimeSender: !d.SenderSeen(msg.From, msg.ID),
		FollowUp:        d.IsFollowUp(msg, threadID),
	}
	if t, ok := d.Get(threadID); ok {
		c.Thread = t
	}
	return c
}

// Classifier applies a validated RuleSet. It holds no mutable state.
type Classifier struct {
	offLimits []string
	phases    [][]Rule
}

// keyword categories are checked tier by tier in this order.
var phaseOrder = []types.Tier{types.TierEscalate, types.TierFlag, types.TierDraft, types.TierHandle}

// New validates rs and builds a Classifier.
func New(rs RuleSet) (*Classifier, error) {
	if problems := rs.Validate(); len(problems) > 0 {
		return nil, terrors.NewConfigInvalid(problems)
	}
	c := &Classifier{phases: make([][]Rule, len(phaseOrder))}
	for _, entry := range rs.OffLimits {
		if e := strings.ToLower(strings.TrimSpace(entry)); e != "" {
			c.offLimits = append(c.offLimits, e)
		}
	}
	for _, r := range rs.Rules {
		if r.Action == "" {
			r.Action = DefaultAction(r.Tier)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kws = append(kws, strings.ToLower(strings.TrimSpace(kw)))
		}
		r.Keywords = kws
		for i, tier := range phaseOrder {
			if r.Tier == tier {
				c.phases[i] = append(c.phases[i], r)
			}
		}
	}
	return c, nil
}

// Classify returns the decision for msg. It never fails and never mutates msg.
func (c *Classifier) Classify(msg *types.Message, ctx Context) types.TierDecision {
	from := types.NormalizeAddress(msg.From)
	if from == "" {
		return decide(types.TierDraft, types.CategoryMalformedInput, "", false, 1, "message has no sender")
	}
	if entry, ok := c.OffLimits(from); ok {
		return decide(types.TierEscalate, types.CategoryOffLimits, "", false, 1,
			fmt.Sprintf("sender %s is off-limits (%s)", from, entry))
	}
	if marker, ok := sourceMarked(msg); ok {
		return decide(types.TierEscalate, types.CategorySourceMarked, "", false, 1,
			fmt.Sprintf("marked %s by the source", marker))
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return decide(types.TierDraft, types.CategoryMalformedInput, "", false, 1, "message has no subject")
	}

	text := strings.ToLower(msg.Subject + "\n" + msg.BodyText)
	for i, rules := range c.phases {
		if phaseOrder[i] == types.TierHandle && ctx.FollowUp {
			return decide(types.TierDraft, types.CategoryWaitingFor, "", false, 1,
				"sender is following up on a stale thread")
		}
		for _, r := range rules {
			if kw, ok := matchAny(text, r.Keywords); ok {
				d := decide(r.Tier, r.Category, r.Label, r.Reply, 1,
					fmt.Sprintf("matched keyword %q (%s)", kw, r.Category))
				d.AllowedAction = r.Action
				return d
			}
		}
	}
	if ctx.FirstTimeSender {
		return decide(types.TierDraft, types.CategoryFirstTimeSender, "", false, 1,
			fmt.Sprintf("first message from %s", from))
	}
	return decide(types.TierDraft, types.CategoryAmbiguous, "", false, 0, "no rule matched")
}

// OffLimits reports whether addr matches an off-limits entry. Entries are
// full addresses, "@domain" or a bare domain.
func (c *Classifier) OffLimits(addr string) (string, bool) {
	addr = types.NormalizeAddress(addr)
	at := strings.LastIndex(addr, "@")
	for _, e := range c.offLimits {
		switch {
		case e == addr:
			return e, true
		case strings.HasPrefix(e, "@") && at >= 0 && addr[at:] == e:
			return e, true
		case !strings.Contains(e, "@") && at >= 0 && addr[at+1:] == e:
			return e, true
		}
	}
	return "", false
}

var sourceMarkers = []string{"urgent", "confidential"}

func sourceMarked(msg *types.Message) (string, bool) {
	for _, m := range sourceMarkers {
		if msg.HasLabel(m) {
			return m, true
		}
	}
	subj := strings.ToLower(strings.TrimSpace(msg.Subject))
	for _, m := range sourceMarkers {
		if strings.HasPrefix(subj, "["+m+"]") || strings.HasPrefix(subj, m+":") {
			return m, true
		}
	}
	return "", false
}

func decide(tier types.Tier, cat types.Category, label string, reply bool, confidence float64, reason string) types.TierDecision {
	if label == "" {
		label = builtinLabels[cat]
	}
	return types.TierDecision{
		Tier:                tier,
		MatchedRuleCategory: cat,
		Label:               types.Label{Primary: label, Secondary: []string{TierLabel(tier)}},
		AllowedAction:       DefaultAction(tier),
		Confidence:          confidence,
		Reason:              reason,
		Reply:               reply && tier == types.TierHandle,
	}
}

func matchAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if containsWord(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// containsWord reports whether kw occurs in text on word boundaries, so
// "hr" does not match "three". Both arguments must already be lowercase.
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if !isWordByte(text, i-1) && !isWordByte(text, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	r := rune(s[i])
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
