package intent

import "github.com/Jdogg9/agent-admission-sidecar/internal/semantic"

// GuardResult is the ambiguity guard outcome.
type GuardResult struct {
	Allowed    bool    `json:"allowed"`
	Reason     string  `json:"reason"`
	Message    string  `json:"message,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ApplyAmbiguityGuard is a pure, stateless check over the ranked
// candidates: block low-confidence matches, block close calls, allow the
// rest. Kept free of router state so it can be tested in isolation.
func ApplyAmbiguityGuard(decision semantic.Decision, candidates []semantic.Match, minConfidence, minGap float64) GuardResult {
	top := decision.Confidence
	if len(candidates) > 0 {
		top = candidates[0].Score
	}

	if top < minConfidence {
		return GuardResult{
			Allowed:    false,
			Reason:     ReasonLowConfidence,
			Message:    "Intent confidence below threshold. Human review required.",
			Confidence: top,
		}
	}

	if len(candidates) > 1 && candidates[0].Score-candidates[1].Score < minGap {
		return GuardResult{
			Allowed:    false,
			Reason:     ReasonAmbiguous,
			Message:    "Multiple intents matched too closely. Human review required.",
			Confidence: top,
		}
	}

	return GuardResult{Allowed: true, Reason: ReasonConfident, Confidence: top}
}
