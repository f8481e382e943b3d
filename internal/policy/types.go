package policy

// Document is the versioned policy file. Rules govern tool invocations,
// routes drive the deterministic intent tier, intents carry per-intent
// review requirements and threshold overrides.
type Document struct {
	Policy  Section        `yaml:"policy"`
	Rules   []Rule         `yaml:"rules"`
	Routes  []RouteRule    `yaml:"routes"`
	Intents []IntentConfig `yaml:"intents"`
}

type Section struct {
	IntentRouter IntentRouterSection `yaml:"intent_router"`
}

type IntentRouterSection struct {
	Tier0 Tier0Section `yaml:"tier0"`
	Hitl  HitlSection  `yaml:"hitl"`
}

type Tier0Section struct {
	DenyPatterns  []string `yaml:"deny_patterns"`
	AllowPatterns []string `yaml:"allow_patterns"`
}

type HitlSection struct {
	Message string `yaml:"message"`
}

// Rule is one ordered authorization rule. First match wins.
type Rule struct {
	Match       string      `yaml:"match"`
	Action      string      `yaml:"action"`
	Reason      string      `yaml:"reason"`
	RequireSafe bool        `yaml:"require_safe"`
	Conditions  *Conditions `yaml:"conditions"`
}

// Conditions bound the character length of a named input parameter.
type Conditions struct {
	InputParam  string `yaml:"input_param"`
	MinInputLen *int   `yaml:"min_input_len"`
	MaxInputLen *int   `yaml:"max_input_len"`
}

// RouteRule maps an input pattern to a tool deterministically.
type RouteRule struct {
	Match      string            `yaml:"match"`
	Tool       string            `yaml:"tool"`
	Params     map[string]string `yaml:"params"`
	Confidence float64           `yaml:"confidence"`
	Reason     string            `yaml:"reason"`
}

// IntentConfig names an intent that needs tier-3 human review and may
// override the tier-2 confidence/gap thresholds.
type IntentConfig struct {
	ID            string   `yaml:"id"`
	Tier3Required bool     `yaml:"tier3_required"`
	MinConfidence *float64 `yaml:"min_confidence_tier2"`
	MinGap        *float64 `yaml:"min_gap_tier2"`
}

// Decision is the outcome of checking one tool invocation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Rule    string `json:"rule,omitempty"`
}

const (
	ReasonDisabled        = "policy_disabled"
	ReasonMissing         = "policy_missing"
	ReasonConditionFailed = "policy_condition_failed"
	ReasonRequiresSafe    = "policy_requires_safe"
	ReasonDefaultDeny     = "policy_default_deny"
)
