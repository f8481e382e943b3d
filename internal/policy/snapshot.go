package policy

import (
	"regexp"

	"github.com/rs/zerolog/log"
)

// Snapshot is an immutable view of one loaded policy document with its
// patterns precompiled. Decisions and cache entries are stamped with its
// hash so audit replay can prove which version governed them.
type Snapshot struct {
	Doc  Document
	Hash string

	rules  []compiledRule
	deny   []*regexp.Regexp
	allow  []*regexp.Regexp
	routes []compiledRoute
}

type compiledRule struct {
	rule    Rule
	pattern *regexp.Regexp
}

type compiledRoute struct {
	route   RouteRule
	pattern *regexp.Regexp
}

// RouteMatch is a deterministic tier-0 route hit.
type RouteMatch struct {
	Tool       string
	Params     map[string]string
	Confidence float64
	Reason     string
}

func newSnapshot(doc Document, hash string) *Snapshot {
	s := &Snapshot{Doc: doc, Hash: hash}

	for _, r := range doc.Rules {
		re := compilePattern(r.Match, "rule")
		if re == nil {
			continue
		}
		s.rules = append(s.rules, compiledRule{rule: r, pattern: re})
	}

	for _, p := range doc.Policy.IntentRouter.Tier0.DenyPatterns {
		if re := compilePattern(p, "deny_pattern"); re != nil {
			s.deny = append(s.deny, re)
		}
	}
	for _, p := range doc.Policy.IntentRouter.Tier0.AllowPatterns {
		if re := compilePattern(p, "allow_pattern"); re != nil {
			s.allow = append(s.allow, re)
		}
	}
	for _, r := range doc.Routes {
		if re := compilePattern(r.Match, "route"); re != nil {
			s.routes = append(s.routes, compiledRoute{route: r, pattern: re})
		}
	}

	return s
}

func compilePattern(pattern, kind string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Str("pattern", pattern).Msg("invalid policy pattern skipped")
		return nil
	}
	return re
}

// MatchDeny returns the first tier-0 deny pattern matching the input.
func (s *Snapshot) MatchDeny(input string) (string, bool) {
	for _, re := range s.deny {
		if re.MatchString(input) {
			return re.String(), true
		}
	}
	return "", false
}

// MatchAllow returns the first tier-0 allow pattern matching the input.
func (s *Snapshot) MatchAllow(input string) (string, bool) {
	for _, re := range s.allow {
		if re.MatchString(input) {
			return re.String(), true
		}
	}
	return "", false
}

// MatchRoute evaluates the declarative route rules in file order.
func (s *Snapshot) MatchRoute(input string) (RouteMatch, bool) {
	for _, cr := range s.routes {
		if !cr.pattern.MatchString(input) {
			continue
		}
		m := RouteMatch{
			Tool:       cr.route.Tool,
			Params:     cr.route.Params,
			Confidence: cr.route.Confidence,
			Reason:     cr.route.Reason,
		}
		if m.Params == nil {
			m.Params = map[string]string{}
		}
		if m.Confidence == 0 {
			m.Confidence = 0.7
		}
		if m.Reason == "" {
			m.Reason = "policy_match"
		}
		return m, true
	}
	return RouteMatch{}, false
}

// IntentConfig looks up the per-intent review configuration.
func (s *Snapshot) IntentConfig(intentID string) (IntentConfig, bool) {
	if intentID == "" {
		return IntentConfig{}, false
	}
	for _, ic := range s.Doc.Intents {
		if ic.ID == intentID {
			return ic, true
		}
	}
	return IntentConfig{}, false
}

// HitlMessage is the operator-facing escalation message.
func (s *Snapshot) HitlMessage() string {
	if msg := s.Doc.Policy.IntentRouter.Hitl.Message; msg != "" {
		return msg
	}
	return "Ambiguous intent detected. Human review required."
}
