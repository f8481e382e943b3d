package registry

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins installs the default tool set: two safe in-process
// tools, two sandboxed interpreters, and a local extractive summarizer.
func RegisterBuiltins(r *Registry) error {
	specs := []ToolSpec{
		{
			Name:        "echo",
			Description: "Echo user input",
			Handler:     echoHandler,
			Safe:        true,
		},
		{
			Name:        "safe_calc",
			Description: "Safely evaluate arithmetic expressions",
			Handler:     calcHandler,
			Safe:        true,
		},
		{
			Name:            "python_eval",
			Description:     "Evaluate Python expressions inside a locked-down sandbox",
			Safe:            false,
			RequiresSandbox: true,
			SandboxCommand:  []string{"python", "/tools/python_eval.py"},
		},
		{
			Name:            "python_exec",
			Description:     "Execute multi-line Python scripts inside a locked-down sandbox",
			Safe:            false,
			RequiresSandbox: true,
			SandboxCommand:  []string{"python", "/tools/python_exec.py"},
		},
		{
			Name:        "summarize_text",
			Description: "Summarize text locally without an LLM",
			Handler:     summarizeHandler,
			Safe:        true,
		},
	}

	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func echoHandler(_ context.Context, args map[string]any) (any, error) {
	message, _ := args["message"].(string)
	return "Echo: " + message, nil
}

func calcHandler(_ context.Context, args map[string]any) (any, error) {
	expression, _ := args["expression"].(string)
	return evaluateExpression(expression)
}

// summarizeHandler produces a lightweight extractive summary.
func summarizeHandler(_ context.Context, args map[string]any) (any, error) {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}

	maxSentences := 3
	if raw, ok := args["max_sentences"].(float64); ok && raw > 0 {
		maxSentences = int(raw)
	}

	normalized := strings.Join(strings.Fields(text), " ")
	var sentences []string
	for _, s := range strings.Split(normalized, ".") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}

	kept := len(sentences)
	if kept > maxSentences {
		kept = maxSentences
	}
	summary := strings.Join(sentences[:kept], ". ")
	if summary != "" && !strings.HasSuffix(summary, ".") {
		summary += "."
	}

	return map[string]any{
		"summary":   summary,
		"sentences": kept,
	}, nil
}
