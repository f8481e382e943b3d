package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NewOllamaEmbedder returns an EmbedFunc backed by an Ollama embeddings
// endpoint. The sidecar never generates embeddings itself.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) EmbedFunc {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, text string) ([]float64, error) {
		body, err := json.Marshal(map[string]string{
			"model":  model,
			"prompt": text,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embed request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("embed request: status %d", resp.StatusCode)
		}

		var payload struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode embed response: %w", err)
		}
		return payload.Embedding, nil
	}
}
