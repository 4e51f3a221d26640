// Package types defines core data structures for the triage pipeline.
package types

import (
	"net/mail"
	"strings"
	"time"
)

// Message is one inbound email to be triaged. Everything except Labels is
// fixed once the message has been fetched from the mail source.
type Message struct {
	ID                string    `json:"id"`
	ProtocolMessageID string    `json:"protocol_message_id,omitempty"`
	InReplyTo         string    `json:"in_reply_to,omitempty"`
	Subject           string    `json:"subject"`
	From              string    `json:"from"`
	To                string    `json:"to,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
	BodyText          string    `json:"body,omitempty"`
	Labels            []string  `json:"labels,omitempty"`
}

// HasLabel reports whether the label is already applied (case-insensitive).
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// AddLabel appends a label unless it is already present.
// Returns true if the label was added.
func (m *Message) AddLabel(label string) bool {
	if label == "" || m.HasLabel(label) {
		return false
	}
	m.Labels = append(m.Labels, label)
	return true
}

// NormalizeAddress reduces "Name <a@b.com>" to "a@b.com", lowercased.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	if i, j := strings.LastIndex(s, "<"), strings.LastIndex(s, ">"); i >= 0 && j > i {
		s = s[i+1 : j]
	}
	return strings.ToLower(strings.Trim(s, " \"'"))
}

// SplitAddresses parses a comma-separated header value into normalized addresses.
func SplitAddresses(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if a := NormalizeAddress(part); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Thread groups correlated messages into one conversation.
type Thread struct {
	ThreadID       string     `json:"thread_id"`
	Subject        string     `json:"subject"`
	Participants   []string   `json:"participants"`
	Emails         []*Message `json:"emails"`
	EmailCount     int        `json:"email_count"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// Tier is one of the four mutually exclusive handling classes.
type Tier int

// Tier constants.
const (
	TierEscalate Tier = 1
	TierHandle   Tier = 2
	TierDraft    Tier = 3
	TierFlag     Tier = 4
)

// String returns the human-readable tier name.
func (t Tier) String() string {
	switch t {
	case TierEscalate:
		return "escalate"
	case TierHandle:
		return "handle"
	case TierDraft:
		return "draft"
	case TierFlag:
		return "flag"
	default:
		return "unknown"
	}
}

// IsValid reports whether t is one of the four defined tiers.
func (t Tier) IsValid() bool {
	return t >= TierEscalate && t <= TierFlag
}

// Action is what the orchestrator is allowed to do for a decision.
type Action string

// Action constants.
const (
	ActionEscalateOnly     Action = "escalate_only"
	ActionAutoRespond      Action = "auto_respond"
	ActionDraftForApproval Action = "draft_for_approval"
	ActionFlagOnly         Action = "flag_only"
)

// ValidActions is the set of allowed action values.
var ValidActions = []Action{ActionEscalateOnly, ActionAutoRespond, ActionDraftForApproval, ActionFlagOnly}

// IsValidAction checks if an action string is valid.
func IsValidAction(a string) bool {
	for _, v := range ValidActions {
		if string(v) == a {
			return true
		}
	}
	return false
}

// Category names which rule fired.
type Category string

// Tier 1 categories.
const (
	CategoryOffLimits         Category = "off_limits"
	CategorySourceMarked      Category = "source_marked"
	CategoryRevenue           Category = "revenue"
	CategoryPartnership       Category = "partnership"
	CategoryLegal             Category = "legal"
	CategoryHR                Category = "hr"
	CategoryFinancialApproval Category = "financial_approval"
	CategoryCrisis            Category = "crisis"
)

// Tier 2 categories.
const (
	CategoryScheduling     Category = "scheduling"
	CategoryNewsletter     Category = "newsletter"
	CategoryVendorRoutine  Category = "vendor_routine"
	CategoryFollowUp       Category = "follow_up"
	CategoryInformational  Category = "informational"
	CategoryAdministrative Category = "administrative"
	CategoryTravel         Category = "travel"
	CategoryExpenseReceipt Category = "expense_receipt"
)

// Tier 3 categories.
const (
	CategoryDecline         Category = "decline"
	CategoryOperatorVoice   Category = "operator_voice"
	CategoryFirstTimeSender Category = "first_time_sender"
	CategoryWaitingFor      Category = "waiting_for"
	CategoryAmbiguous       Category = "ambiguous"
	CategoryMalformedInput  Category = "malformed_input"
)

// Tier 4 categories.
const (
	CategoryPersonnel           Category = "personnel"
	CategoryConfidentialFinance Category = "confidential_financial"
	CategoryLegalConsultation   Category = "legal_consultation"
	CategoryGovernance          Category = "governance"
	CategoryPersonal            Category = "personal"
)

// Label is the primary label to apply plus optional secondary labels.
type Label struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
}

// All returns the primary label followed by the secondary labels.
func (l Label) All() []string {
	out := make([]string, 0, 1+len(l.Secondary))
	if l.Primary != "" {
		out = append(out, l.Primary)
	}
	return append(out, l.Secondary...)
}

// Includes reports whether name is the primary or a secondary label.
func (l Label) Includes(name string) bool {
	for _, v := range l.All() {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// TierDecision is the classification output for one message.
type TierDecision struct {
	Tier                Tier     `json:"tier"`
	MatchedRuleCategory Category `json:"matched_rule_category"`
	Label               Label    `json:"label"`
	AllowedAction       Action   `json:"allowed_action"`
	Confidence          float64  `json:"confidence,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	// Reply is set when the matched rule has a templated reply the
	// orchestrator may send (Tier 2 only).
	Reply bool `json:"reply,omitempty"`
}

// Decision status values.
const (
	StatusPending  = "pending"  // decided, side effect not yet confirmed
	StatusDone     = "done"     // side effect completed
	StatusFailed   = "failed"   // side effect failed after retries
	StatusReviewed = "reviewed" // a human has looked at the draft or flag
)

// Decision is a persisted TierDecision plus what the orchestrator did with it.
type Decision struct {
	MessageID string   `json:"message_id"`
	ThreadID  string   `json:"thread_id"`
	Subject   string   `json:"subject"`
	From      string   `json:"from"`
	Tier      Tier     `json:"tier"`
	Category  Category `json:"category"`
	Label     string   `json:"label"`
	Action    Action   `json:"action"`
	Reason    string   `json:"reason,omitempty"`
	Status    string   `json:"status"`
	Note      string   `json:"note,omitempty"`
	DecidedAt string   `json:"decided_at"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// RunSummary holds the outcome of one orchestrator invocation.
type RunSummary struct {
	RunID      string       `json:"run_id"`
	Mode       string       `json:"mode"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Processed  int          `json:"processed"`
	Failures   int          `json:"failures"`
	Healthy    bool         `json:"healthy"`
	Error      string       `json:"error,omitempty"`
	ByTier     map[Tier]int `json:"by_tier,omitempty"`
	// FetchedThrough is the receipt time up to which every fetched message
	// was triaged. The next run fetches from here.
	FetchedThrough string `json:"fetched_through,omitempty"`
}
