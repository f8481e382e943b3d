package semantic

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Match is one ranked candidate tool.
type Match struct {
	Tool  string  `json:"tool"`
	Score float64 `json:"score"`
}

// Decision is the best semantic match, or no match.
type Decision struct {
	Tool       string            `json:"tool,omitempty"`
	Params     map[string]string `json:"params"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason"`
}

// Tool is a candidate the router ranks against.
type Tool struct {
	Name        string
	Description string
}

// EmbedFunc produces an embedding for free text. Embedding generation is
// external; the router only consumes vectors.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

const defaultMinGap = 0.05

// Router ranks candidate tools by embedding similarity to free text.
type Router struct {
	enabled       bool
	minSimilarity float64
	minGap        float64
	embed         EmbedFunc

	mu         sync.Mutex
	tools      []Tool
	embeddings map[string][]float64
}

func NewRouter(tools []Tool, enabled bool, minSimilarity float64, embed EmbedFunc) *Router {
	return &Router{
		enabled:       enabled,
		minSimilarity: minSimilarity,
		minGap:        defaultMinGap,
		embed:         embed,
		tools:         tools,
		embeddings:    make(map[string][]float64),
	}
}

func (r *Router) Enabled() bool {
	return r.enabled
}

// Route returns the best match only.
func (r *Router) Route(ctx context.Context, userInput string) Decision {
	decision, _ := r.RouteWithDiagnostics(ctx, userInput)
	return decision
}

// RouteWithDiagnostics returns the decision plus the full ranked candidate
// list, which the ambiguity guard and audit evidence consume.
func (r *Router) RouteWithDiagnostics(ctx context.Context, userInput string) (Decision, []Match) {
	if !r.enabled || strings.TrimSpace(userInput) == "" || r.embed == nil {
		return noMatch(), nil
	}

	inputEmbedding, err := r.embed(ctx, userInput)
	if err != nil || len(inputEmbedding) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("input embedding failed")
		}
		return noMatch(), nil
	}

	candidates := r.rankCandidates(ctx, inputEmbedding)
	if len(candidates) == 0 {
		return noMatch(), nil
	}

	best := candidates[0]
	if best.Score < r.minSimilarity {
		return noMatch(), candidates
	}
	if len(candidates) > 1 && best.Score-candidates[1].Score < r.minGap {
		return noMatch(), candidates
	}

	return Decision{
		Tool:       best.Tool,
		Params:     map[string]string{},
		Confidence: best.Score,
		Reason:     "semantic_match",
	}, candidates
}

func (r *Router) rankCandidates(ctx context.Context, inputEmbedding []float64) []Match {
	var candidates []Match
	for _, tool := range r.tools {
		toolEmbedding := r.toolEmbedding(ctx, tool)
		if len(toolEmbedding) == 0 {
			continue
		}
		candidates = append(candidates, Match{
			Tool:  tool.Name,
			Score: cosineSimilarity(inputEmbedding, toolEmbedding),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func (r *Router) toolEmbedding(ctx context.Context, tool Tool) []float64 {
	r.mu.Lock()
	cached, ok := r.embeddings[tool.Name]
	r.mu.Unlock()
	if ok {
		return cached
	}

	embedding, err := r.embed(ctx, toolPrompt(tool))
	if err != nil || len(embedding) == 0 {
		return nil
	}

	r.mu.Lock()
	r.embeddings[tool.Name] = embedding
	r.mu.Unlock()
	return embedding
}

func toolPrompt(tool Tool) string {
	return strings.TrimSpace(tool.Name + ": " + strings.TrimSpace(tool.Description))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func noMatch() Decision {
	return Decision{Params: map[string]string{}, Reason: "no_match"}
}
