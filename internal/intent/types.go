package intent

// Routing tiers.
const (
	TierRule     = 0
	TierCache    = 1
	TierSemantic = 2
)

// Deny / escalation reasons surfaced on decisions.
const (
	ReasonRouterDisabled = "intent_router_disabled"
	ReasonTier0Deny      = "tier0_deny"
	ReasonTier3Required  = "tier3_required"
	ReasonHitlRequired   = "hitl_required"
	ReasonLowConfidence  = "hitl_low_confidence"
	ReasonAmbiguous      = "hitl_ambiguous"
	ReasonConfident      = "intent_confident"
)

// Decision is the atomic unit of routing: one immutable record per
// evaluation. All optional fields are explicit so a cache round-trip
// cannot silently drop one.
type Decision struct {
	DecisionID   string            `json:"decision_id"`
	PolicyHash   string            `json:"policy_hash,omitempty"`
	TierUsed     int               `json:"tier_used"`
	IntentID     string            `json:"intent_id,omitempty"`
	AllowedTools []string          `json:"allowed_tools"`
	ToolParams   map[string]string `json:"tool_params"`
	RequiresHITL bool              `json:"requires_hitl"`
	Confidence   float64           `json:"confidence"`
	Gap          *float64          `json:"gap,omitempty"`
	DenyReason   string            `json:"deny_reason,omitempty"`
	Evidence     map[string]any    `json:"evidence"`
	Operator     map[string]any    `json:"operator,omitempty"`
	Cacheable    bool              `json:"cacheable"`
}
