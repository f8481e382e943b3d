package intent

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Jdogg9/agent-admission-sidecar/internal/policy"
	"github.com/Jdogg9/agent-admission-sidecar/internal/semantic"
	"github.com/Jdogg9/agent-admission-sidecar/internal/trace"
)

// SemanticRanker ranks candidate tools for free text. Satisfied by
// semantic.Router; stubbed in tests.
type SemanticRanker interface {
	RouteWithDiagnostics(ctx context.Context, userInput string) (semantic.Decision, []semantic.Match)
}

// StepRecorder appends audit steps. Satisfied by trace.SQLiteStore.
type StepRecorder interface {
	RecordStep(ctx context.Context, traceID, stepType string, payload map[string]any) error
}

// RouterConfig carries the global tier-2 thresholds. Per-intent overrides
// in the policy document take precedence.
type RouterConfig struct {
	Enabled       bool
	MinConfidence float64
	MinGap        float64
}

/// Router is the three-tier decision procedure: deterministic rules, then
// the policy-scoped cache, then semantic ranking with the ambiguity
// guard. Every decision is recorded as an audit step before it is
// returned.
type Router struct {
	engine   *policy.Engine
	semantic SemanticRanker
	cache    *Cache
	hitl     *HitlQueue
	recorder StepRecorder
	cfg      RouterConfig
}

func NewRouter(engine *policy.Engine, ranker SemanticRanker, cache *Cache, hitl *HitlQueue, recorder StepRecorder, cfg RouterConfig) *Router {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.85
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 0.05
	}

	r := &Router{
		engine:   engine,
		semantic: ranker,
		cache:    cache,
		hitl:     hitl,
		recorder: recorder,
		cfg:      cfg,
	}

	// A policy reload must invalidate the superseded hash before any new
	// decision is cached under the new one.
	engine.OnReload(func(oldHash, _ string) {
		if err := cache.InvalidatePolicy(context.Background(), oldHash); err != nil {
			log.Warn().Err(err).Str("policy_hash", oldHash).Msg("cache invalidation failed")
		}
	})

	return r
}

func (r *Router) Enabled() bool {
	return r.cfg.Enabled
}

// Route produces one immutable decision for the input. Tiers short-circuit
// on the first decisive outcome; HITL escalation and audit recording
// happen before the decision is returned.
func (r *Router) Route(ctx context.Context, userInput, traceID string) Decision {
	if !r.cfg.Enabled {
		return newDecision(decisionParams{
			Tier:       TierRule,
			DenyReason: ReasonRouterDisabled,
			Evidence:   map[string]any{"note": ReasonRouterDisabled},
		})
	}

	snap := r.engine.Snapshot()
	signature := Signature(NormalizeInput(userInput))

	if decision, ok := r.tier0Rule(ctx, snap, userInput); ok {
		decision = r.maybeEnqueueHitl(ctx, snap, decision)
		r.recordDecision(ctx, traceID, decision)
		return decision
	}

	if decision, ok := r.tier1Cache(ctx, snap.Hash, signature); ok {
		r.recordDecision(ctx, traceID, decision)
		return decision
	}

	decision := r.tier2Semantic(ctx, snap, userInput, traceID)
	decision = r.maybeEnqueueHitl(ctx, snap, decision)
	r.recordDecision(ctx, traceID, decision)

	if decision.Cacheable && !decision.RequiresHITL {
		if err := r.cache.Set(ctx, snap.Hash, signature, decision, true); err != nil {
			// Defensive: a cache write failure makes the decision
			// non-cacheable, never corrupt.
			log.Warn().Err(err).Msg("intent cache write failed")
		}
	}

	return decision
}

func (r *Router) tier0Rule(ctx context.Context, snap *policy.Snapshot, userInput string) (Decision, bool) {
	if pattern, ok := snap.MatchDeny(userInput); ok {
		return newDecision(decisionParams{
			Tier:       TierRule,
			PolicyHash: snap.Hash,
			Confidence: 1.0,
			DenyReason: ReasonTier0Deny,
			Evidence:   map[string]any{"rules_matched": []string{pattern}},
		}), true
	}

	if route, ok := snap.MatchRoute(userInput); ok {
		cfg, _ := snap.IntentConfig(route.Tool)
		requiresHitl := cfg.Tier3Required
		denyReason := ""
		if requiresHitl {
			denyReason = ReasonTier3Required
		}
		return newDecision(decisionParams{
			Tier:         TierRule,
			PolicyHash:   snap.Hash,
			IntentID:     route.Tool,
			AllowedTools: []string{route.Tool},
			ToolParams:   route.Params,
			Confidence:   route.Confidence,
			RequiresHITL: requiresHitl,
			DenyReason:   denyReason,
			Evidence: map[string]any{
				"rules_matched": []string{route.Reason},
				"hitl_message":  snap.HitlMessage(),
			},
		}), true
	}

	if pattern, ok := snap.MatchAllow(userInput); ok {
		return newDecision(decisionParams{
			Tier:       TierRule,
			PolicyHash: snap.Hash,
			IntentID:   "allow_pattern",
			Confidence: 0.9,
			Evidence:   map[string]any{"rules_matched": []string{pattern}},
		}), true
	}

	return Decision{}, false
}

func (r *Router) tier1Cache(ctx context.Context, policyHash, signature string) (Decision, bool) {
	if policyHash == "" {
		return Decision{}, false
	}

	entry, err := r.cache.Get(ctx, policyHash, signature)
	if err != nil {
		log.Warn().Err(err).Msg("intent cache read failed")
		return Decision{}, false
	}
	if entry == nil {
		return Decision{}, false
	}

	// Escalated decisions are never written, so a cached requires_hitl
	// can only mean corruption. Treat it as a miss.
	if entry.Decision.RequiresHITL {
		log.Warn().Str("signature", signature).Msg("cached decision requires hitl, discarding")
		return Decision{}, false
	}

	decision := entry.Decision
	decision.TierUsed = TierCache
	decision.Evidence = cloneEvidence(decision.Evidence)
	decision.Evidence["cache_hit"] = true
	return decision, true
}

func (r *Router) tier2Semantic(ctx context.Context, snap *policy.Snapshot, userInput, traceID string) Decision {
	semanticDecision, candidates := r.semantic.RouteWithDiagnostics(ctx, userInput)

	intentID := semanticDecision.Tool
	minConfidence, minGap := r.thresholds(snap, intentID)

	guard := ApplyAmbiguityGuard(semanticDecision, candidates, minConfidence, minGap)
	r.recordGuard(ctx, traceID, guard)
	guardTriggered := !guard.Allowed

	var gap *float64
	if len(candidates) > 1 {
		g := candidates[0].Score - candidates[1].Score
		gap = &g
	}

	cfg, _ := snap.IntentConfig(intentID)
	requiresHitl := guardTriggered || cfg.Tier3Required

	denyReason := ""
	if guardTriggered {
		denyReason = guard.Reason
	}

	cacheable := intentID != "" &&
		!requiresHitl &&
		semanticDecision.Confidence >= minConfidence &&
		(gap == nil || *gap >= minGap)

	evidence := map[string]any{
		"semantic_topk":   topK(candidates, 3),
		"guard_triggered": guardTriggered,
		"guard_message":   guard.Message,
	}
	if guardTriggered {
		evidence["hitl_message"] = guard.Message
	}

	var allowedTools []string
	if intentID != "" {
		allowedTools = []string{intentID}
	}

	return newDecision(decisionParams{
		Tier:         TierSemantic,
		PolicyHash:   snap.Hash,
		IntentID:     intentID,
		AllowedTools: allowedTools,
		Confidence:   semanticDecision.Confidence,
		Gap:          gap,
		RequiresHITL: requiresHitl,
		DenyReason:   denyReason,
		Evidence:     evidence,
		Cacheable:    cacheable,
	})
}

func (r *Router) maybeEnqueueHitl(ctx context.Context, snap *policy.Snapshot, decision Decision) Decision {
	if !decision.RequiresHITL {
		return decision
	}

	payload := map[string]any{
		"decision_id": decision.DecisionID,
		"intent_id":   decision.IntentID,
		"confidence":  decision.Confidence,
		"gap":         decision.Gap,
		"evidence":    decision.Evidence,
	}

	evidence := cloneEvidence(decision.Evidence)
	req, err := r.hitl.Enqueue(ctx, payload)
	if err != nil {
		log.Warn().Err(err).Msg("hitl enqueue failed")
	}
	if req != nil {
		evidence["hitl_request_id"] = req.RequestID
	}
	evidence["hitl_message"] = snap.HitlMessage()

	if decision.DenyReason == "" {
		decision.DenyReason = ReasonHitlRequired
	}
	decision.Evidence = evidence
	decision.Cacheable = false
	decision.Operator = nil
	return decision
}

func (r *Router) thresholds(snap *policy.Snapshot, intentID string) (float64, float64) {
	minConfidence := r.cfg.MinConfidence
	minGap := r.cfg.MinGap
	if cfg, ok := snap.IntentConfig(intentID); ok {
		if cfg.MinConfidence != nil {
			minConfidence = *cfg.MinConfidence
		}
		if cfg.MinGap != nil {
			minGap = *cfg.MinGap
		}
	}
	return minConfidence, minGap
}

func (r *Router) recordDecision(ctx context.Context, traceID string, decision Decision) {
	if traceID == "" || r.recorder == nil {
		return
	}

	payload := map[string]any{
		"decision_id":   decision.DecisionID,
		"policy_hash":   decision.PolicyHash,
		"tier_used":     decision.TierUsed,
		"intent_id":     decision.IntentID,
		"allowed_tools": decision.AllowedTools,
		"tool_params":   decision.ToolParams,
		"requires_hitl": decision.RequiresHITL,
		"confidence":    decision.Confidence,
		"gap":           decision.Gap,
		"deny_reason":   decision.DenyReason,
		"evidence":      decision.Evidence,
		"cacheable":     decision.Cacheable,
	}
	if err := r.recorder.RecordStep(ctx, traceID, trace.StepIntentRouter, payload); err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Msg("audit step write failed")
	}
}

func (r *Router) recordGuard(ctx context.Context, traceID string, guard GuardResult) {
	if traceID == "" || r.recorder == nil {
		return
	}

	payload := map[string]any{
		"allowed":    guard.Allowed,
		"reason":     guard.Reason,
		"message":    guard.Message,
		"confidence": guard.Confidence,
	}
	if err := r.recorder.RecordStep(ctx, traceID, trace.StepAmbiguityGuard, payload); err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Msg("audit step write failed")
	}
}

type decisionParams struct {
	Tier         int
	PolicyHash   string
	IntentID     string
	AllowedTools []string
	ToolParams   map[string]string
	Confidence   float64
	Gap          *float64
	RequiresHITL bool
	DenyReason   string
	Evidence     map[string]any
	Cacheable    bool
}

func newDecision(p decisionParams) Decision {
	if p.AllowedTools == nil {
		p.AllowedTools = []string{}
	}
	if p.ToolParams == nil {
		p.ToolParams = map[string]string{}
	}
	if p.Evidence == nil {
		p.Evidence = map[string]any{}
	}
	return Decision{
		DecisionID:   uuid.New().String(),
		PolicyHash:   p.PolicyHash,
		TierUsed:     p.Tier,
		IntentID:     p.IntentID,
		AllowedTools: p.AllowedTools,
		ToolParams:   p.ToolParams,
		RequiresHITL: p.RequiresHITL,
		Confidence:   p.Confidence,
		Gap:          p.Gap,
		DenyReason:   p.DenyReason,
		Evidence:     p.Evidence,
		Cacheable:    p.Cacheable,
	}
}

func cloneEvidence(evidence map[string]any) map[string]any {
	cloned := make(map[string]any, len(evidence)+2)
	for k, v := range evidence {
		cloned[k] = v
	}
	return cloned
}

func topK(candidates []semantic.Match, k int) []map[string]any {
	if len(candidates) < k {
		k = len(candidates)
	}
	top := make([]map[string]any, 0, k)
	for _, c := range candidates[:k] {
		top = append(top, map[string]any{"tool": c.Tool, "score": c.Score})
	}
	return top
}
