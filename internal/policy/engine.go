package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Engine evaluates tool invocations against the ordered rule list of the
// active policy document. Rules are data, not code: first match wins, no
// match denies when enforcement is on.
type Engine struct {
	mu       sync.RWMutex
	path     string
	enforce  bool
	snapshot *Snapshot
	watcher  *FileWatcher
	onReload []func(oldHash, newHash string)
}

func NewEngine(path string, enforce bool) (*Engine, error) {
	e := &Engine{path: path, enforce: enforce}
	if err := e.load(); err != nil {
		return nil, fmt.Errorf("initial policy load: %w", err)
	}
	return e, nil
}

// Check evaluates one tool invocation. Reasons are stable strings suitable
// for audit assertions.
func (e *Engine) Check(toolName string, safe bool, params map[string]any) Decision {
	if !e.enforce {
		return Decision{Allowed: true, Reason: ReasonDisabled}
	}

	snap := e.Snapshot()
	if len(snap.rules) == 0 {
		return Decision{Allowed: false, Reason: ReasonMissing}
	}

	for _, cr := range snap.rules {
		if !cr.pattern.MatchString(toolName) {
			continue
		}
		return evaluateRule(cr, safe, params)
	}

	return Decision{Allowed: false, Reason: ReasonDefaultDeny}
}

func evaluateRule(cr compiledRule, safe bool, params map[string]any) Decision {
	rule := cr.rule
	pattern := rule.Match

	if rule.Conditions != nil && !conditionsHold(rule.Conditions, params) {
		return Decision{Allowed: false, Reason: ReasonConditionFailed, Rule: pattern}
	}

	if rule.RequireSafe && !safe {
		return Decision{Allowed: false, Reason: ReasonRequiresSafe, Rule: pattern}
	}

	reason := rule.Reason
	if reason == "" {
		reason = "policy_rule"
	}
	if strings.EqualFold(rule.Action, "deny") {
		return Decision{Allowed: false, Reason: reason, Rule: pattern}
	}
	return Decision{Allowed: true, Reason: reason, Rule: pattern}
}

func conditionsHold(c *Conditions, params map[string]any) bool {
	raw, ok := params[c.InputParam]
	if !ok {
		return false
	}
	value := fmt.Sprint(raw)
	if c.MinInputLen != nil && len(value) < *c.MinInputLen {
		return false
	}
	if c.MaxInputLen != nil && len(value) > *c.MaxInputLen {
		return false
	}
	return true
}

// Snapshot returns the active document view. The returned value is
// immutable; callers may hold it across a reload.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Hash is the fingerprint of the active document plus the enforcement
// flag. Empty when no document exists.
func (e *Engine) Hash() string {
	return e.Snapshot().Hash
}

// Enforced reports whether policy enforcement is on.
func (e *Engine) Enforced() bool {
	return e.enforce
}

// OnReload registers a hook invoked after every successful reload with the
// superseded and the new hash. Hooks run before new decisions can be
// cached under the new hash.
func (e *Engine) OnReload(fn func(oldHash, newHash string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReload = append(e.onReload, fn)
}

// Reload re-reads the policy file and swaps the snapshot atomically.
func (e *Engine) Reload() error {
	return e.load()
}

// Watch starts a filesystem watcher that reloads on document changes.
func (e *Engine) Watch() error {
	if e.watcher != nil {
		return nil
	}
	watcher, err := NewFileWatcher(e.path, func(string) {
		if err := e.Reload(); err != nil {
			log.Error().Err(err).Msg("policy reload failed")
		}
	})
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	e.watcher = watcher
	return nil
}

func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func (e *Engine) load() error {
	doc, hash, err := loadDocument(e.path, e.enforce)
	if err != nil {
		return err
	}
	snap := newSnapshot(doc, hash)

	e.mu.Lock()
	var oldHash string
	if e.snapshot != nil {
		oldHash = e.snapshot.Hash
	}
	e.snapshot = snap
	hooks := e.onReload
	e.mu.Unlock()

	if oldHash != "" && oldHash != hash {
		for _, fn := range hooks {
			fn(oldHash, hash)
		}
	}

	log.Info().Str("path", e.path).Str("hash", hash).Int("rules", len(doc.Rules)).Msg("policy loaded")
	return nil
}

// loadDocument reads and parses the policy file. A missing file yields an
// empty document and empty hash; a malformed file degrades to no rules so
// enforcement falls toward deny rather than allow.
func loadDocument(path string, enforce bool) (Document, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("policy file missing")
			return Document{}, "", nil
		}
		return Document{}, "", fmt.Errorf("read policy file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		log.Error().Err(err).Str("path", path).Msg("malformed policy document, treating as no rules")
		doc = Document{}
	}

	return doc, ComputeHash(raw, enforce), nil
}

// ComputeHash fingerprints the raw policy bytes together with the
// enforcement flag.
func ComputeHash(raw []byte, enforce bool) string {
	h := sha256.New()
	h.Write(raw)
	if enforce {
		h.Write([]byte(":enforce=1"))
	} else {
		h.Write([]byte(":enforce=0"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
