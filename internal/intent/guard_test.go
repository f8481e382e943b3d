package intent

import (
	"testing"

	"github.com/Jdogg9/agent-admission-sidecar/internal/semantic"
)

func TestGuardAllowsConfidentMatch(t *testing.T) {
	candidates := []semantic.Match{
		{Tool: "echo", Score: 0.99},
		{Tool: "safe_calc", Score: 0.50},
	}
	result := ApplyAmbiguityGuard(semantic.Decision{Tool: "echo", Confidence: 0.99}, candidates, 0.85, 0.05)

	if !result.Allowed {
		t.Fatalf("expected allow, got %s", result.Reason)
	}
	if result.Reason != ReasonConfident {
		t.Errorf("expected %s, got %s", ReasonConfident, result.Reason)
	}
}

func TestGuardBlocksLowConfidence(t *testing.T) {
	candidates := []semantic.Match{{Tool: "echo", Score: 0.60}}
	result := ApplyAmbiguityGuard(semantic.Decision{Tool: "echo", Confidence: 0.60}, candidates, 0.85, 0.05)

	if result.Allowed {
		t.Fatal("expected block")
	}
	if result.Reason != ReasonLowConfidence {
		t.Errorf("expected %s, got %s", ReasonLowConfidence, result.Reason)
	}
}

func TestGuardBlocksAmbiguousMatch(t *testing.T) {
	candidates := []semantic.Match{
		{Tool: "echo", Score: 0.99},
		{Tool: "safe_calc", Score: 0.97},
	}
	result := ApplyAmbiguityGuard(semantic.Decision{Tool: "echo", Confidence: 0.99}, candidates, 0.85, 0.05)

	if result.Allowed {
		t.Fatal("expected block")
	}
	if result.Reason != ReasonAmbiguous {
		t.Errorf("expected %s, got %s", ReasonAmbiguous, result.Reason)
	}
}

func TestGuardNoCandidatesUsesDecisionConfidence(t *testing.T) {
	result := ApplyAmbiguityGuard(semantic.Decision{Confidence: 0.0}, nil, 0.85, 0.05)
	if result.Allowed {
		t.Fatal("expected block with no candidates")
	}
	if result.Reason != ReasonLowConfidence {
		t.Errorf("expected %s, got %s", ReasonLowConfidence, result.Reason)
	}
}
