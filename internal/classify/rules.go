package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/types"
)

// Rule maps a keyword set to a category, tier and action.
type Rule struct {
	Category types.Category `json:"category"`
	Tier     types.Tier     `json:"tier"`
	Action   types.Action   `json:"action,omitempty"`
	Label    string         `json:"label,omitempty"`
	Keywords []string       `json:"keywords"`

	// Reply marks Tier 2 categories with a templated reply the
	// orchestrator may send.
	Reply bool `json:"reply,omitempty"`
}

// RuleSet is the complete classifier input besides the message itself.
type RuleSet struct {
	OffLimits []string `json:"off_limits"`
	Rules     []Rule   `json:"rules"`
}

// Tier labels are applied as a secondary label on every decision.
var tierLabels = map[types.Tier]string{
	types.TierEscalate: "Triage/Escalate",
	types.TierHandle:   "Triage/Handled",
	types.TierDraft:    "Triage/Draft",
	types.TierFlag:     "Triage/Flag",
}

// TierLabel returns the secondary label for a tier.
func TierLabel(t types.Tier) string {
	return tierLabels[t]
}

// DefaultAction is the only action a tier allows.
func DefaultAction(t types.Tier) types.Action {
	switch t {
	case types.TierEscalate:
		return types.ActionEscalateOnly
	case types.TierHandle:
		return types.ActionAutoRespond
	case types.TierFlag:
		return types.ActionFlagOnly
	default:
		return types.ActionDraftForApproval
	}
}

// Labels for decisions that are not keyword driven.
var builtinLabels = map[types.Category]string{
	types.CategoryOffLimits:       "VIP",
	types.CategorySourceMarked:    "Urgent",
	types.CategoryMalformedInput:  "Review",
	types.CategoryWaitingFor:      "Waiting For",
	types.CategoryFirstTimeSender: "New Contact",
	types.CategoryAmbiguous:       "Review",
}

// DefaultRules returns the built-in keyword table.
func DefaultRules() []Rule {
	return []Rule{
		// Tier 1
		{Category: types.CategoryRevenue, Tier: types.TierEscalate, Label: "Revenue",
			Keywords: []string{"contract", "deal", "pricing", "proposal", "purchase order", "revenue", "quote", "signed agreement"}},
		{Category: types.CategoryPartnership, Tier: types.TierEscalate, Label: "Partnerships",
			Keywords: []string{"partnership", "partner", "joint venture", "collaboration", "investor", "investment", "acquisition"}},
		{Category: types.CategoryLegal, Tier: types.TierEscalate, Label: "Legal",
			Keywords: []string{"lawsuit", "subpoena", "litigation", "cease and desist", "legal notice", "attorney"}},
		{Category: types.CategoryHR, Tier: types.TierEscalate, Label: "HR",
			Keywords: []string{"harassment", "discrimination", "resignation", "termination", "grievance", "hr complaint"}},
		{Category: types.CategoryFinancialApproval, Tier: types.TierEscalate, Label: "Finance",
			Keywords: []string{"approve payment", "payment approval", "wire transfer", "budget approval", "expense approval", "sign off"}},
		{Category: types.CategoryCrisis, Tier: types.TierEscalate, Label: "Crisis",
			Keywords: []string{"urgent", "emergency", "crisis", "outage", "data breach", "security incident", "asap"}},

		// Tier 4
		{Category: types.CategoryPersonnel, Tier: types.TierFlag, Label: "Personnel",
			Keywords: []string{"performance review", "performance improvement", "disciplinary", "salary", "compensation", "promotion", "layoff"}},
		{Category: types.CategoryConfidentialFinance, Tier: types.TierFlag, Label: "Confidential",
			Keywords: []string{"term sheet", "valuation", "cap table", "negotiation", "m&a"}},
		{Category: types.CategoryLegalConsultation, Tier: types.TierFlag, Label: "Legal Counsel",
			Keywords: []string{"legal advice", "privileged", "attorney-client", "legal opinion"}},
		{Category: types.CategoryGovernance, Tier: types.TierFlag, Label: "Governance",
			Keywords: []string{"board meeting", "board of directors", "shareholder", "bylaws", "governance", "board resolution"}},
		{Category: types.CategoryPersonal, Tier: types.TierFlag, Label: "Personal",
			Keywords: []string{"medical", "doctor", "diagnosis", "therapy", "divorce", "personal matter"}},

		// Tier 3
		{Category: types.CategoryDecline, Tier: types.TierDraft, Label: "Decline",
			Keywords: []string{"decline", "turn down", "not interested", "unable to attend", "can't make it", "regrets"}},
		{Category: types.CategoryOperatorVoice, Tier: types.TierDraft, Label: "Needs Voice",
			Keywords: []string{"speaking", "keynote", "podcast", "interview", "your thoughts", "your perspective", "introduction", "recommendation letter"}},

		// Tier 2
		{Category: types.CategoryScheduling, Tier: types.TierHandle, Label: "Meetings", Reply: true,
			Keywords: []string{"meeting", "meetings", "calendar", "schedule", "reschedule", "invite", "invitation", "availability"}},
		{Category: types.CategoryNewsletter, Tier: types.TierHandle, Label: "Newsletters",
			Keywords: []string{"newsletter", "newsletters", "unsubscribe", "digest", "weekly update", "roundup"}},
		{Category: types.CategoryVendorRoutine, Tier: types.TierHandle, Label: "Vendors",
			Keywords: []string{"invoice", "invoices", "statement", "renewal notice", "subscription", "order confirmation", "shipped", "shipping"}},
		{Category: types.CategoryFollowUp, Tier: types.TierHandle, Label: "Follow-up", Reply: true,
			Keywords: []string{"following up", "follow up", "follow-up", "checking in", "reminder"}},
		{Category: types.CategoryInformational, Tier: types.TierHandle, Label: "Reference",
			Keywords: []string{"fyi", "for your information", "announcement", "no action needed", "no action required"}},
		{Category: types.CategoryAdministrative, Tier: types.TierHandle, Label: "Admin", Reply: true,
			Keywords: []string{"password", "verify", "verification", "policy update", "terms of service", "form"}},
		{Category: types.CategoryTravel, Tier: types.TierHandle, Label: "Travel",
			Keywords: []string{"flight", "itinerary", "boarding pass", "hotel", "reservation", "booking"}},
		{Category: types.CategoryExpenseReceipt, Tier: types.TierHandle, Label: "Receipts",
			Keywords: []string{"receipt", "receipts", "expense", "payment received", "your order", "reimbursement"}},
	}
}

// DefaultRuleSet returns the built-in rules with the given off-limits list.
func DefaultRuleSet(offLimits []string) RuleSet {
	return RuleSet{OffLimits: offLimits, Rules: DefaultRules()}
}

// LoadRules reads a JSON rules file. Its off-limits entries are added to the
// set; each rule replaces the keywords (and label, if given) of the rule with
// the same category, or is appended when the category is new.
func LoadRules(path string, rs RuleSet) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules file: %w", err)
	}
	var file RuleSet
	if err := json.Unmarshal(data, &file); err != nil {
		return rs, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rs.Merge(file), nil
}

// Merge applies overrides to a copy of rs.
func (rs RuleSet) Merge(o RuleSet) RuleSet {
	out := RuleSet{
		OffLimits: append(append([]string(nil), rs.OffLimits...), o.OffLimits...),
		Rules:     append([]Rule(nil), rs.Rules...),
	}
	for _, r := range o.Rules {
		idx := -1
		for i := range out.Rules {
			if out.Rules[i].Category == r.Category {
				idx = i
				break
			}
		}
		if idx < 0 {
			if r.Action == "" {
				r.Action = DefaultAction(r.Tier)
			}
			out.Rules = append(out.Rules, r)
			continue
		}
		if len(r.Keywords) > 0 {
			out.Rules[idx].Keywords = r.Keywords
		}
		if r.Label != "" {
			out.Rules[idx].Label = r.Label
		}
	}
	return out
}

// Validate returns every problem with the rule set.
func (rs RuleSet) Validate() []string {
	var problems []string
	seen := make(map[types.Category]bool)
	for i, r := range rs.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if r.Category == "" {
			problems = append(problems, where+": category is required")
		} else {
			where = fmt.Sprintf("rules[%d] (%s)", i, r.Category)
			if seen[r.Category] {
				problems = append(problems, where+": duplicate category")
			}
			seen[r.Category] = true
		}
		if !r.Tier.IsValid() {
			problems = append(problems, fmt.Sprintf("%s: invalid tier %d", where, r.Tier))
		}
		if r.Action != "" && !types.IsValidAction(string(r.Action)) {
			problems = append(problems, fmt.Sprintf("%s: invalid action %q", where, r.Action))
		}
		if r.Action != "" && r.Tier.IsValid() && r.Action != DefaultAction(r.Tier) {
			problems = append(problems, fmt.Sprintf("%s: action %s not allowed for tier %d", where, r.Action, r.Tier))
		}
		if r.Reply && r.Tier != types.TierHandle {
			problems = append(problems, where+": reply is only allowed for tier 2")
		}
		if len(r.Keywords) == 0 {
			problems = append(problems, where+": at least one keyword is required")
		}
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				problems = append(problems, where+": empty keyword")
				break
			}
		}
	}
	for i, entry := range rs.OffLimits {
		if strings.TrimSpace(entry) == "" {
			problems = append(problems, fmt.Sprintf("off_limits[%d]: empty entry", i))
		}
	}
	return problems
}
