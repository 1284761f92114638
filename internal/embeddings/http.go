package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEncoder calls an external embedding service speaking the
// POST /embed {texts, model} -> {embeddings, dimensions} protocol.
type HTTPEncoder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewHTTPEncoder creates an encoder backed by the service at baseURL.
func NewHTTPEncoder(baseURL, model string, dim int, timeout time.Duration) *HTTPEncoder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEncoder{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPEncoder) Dimension() int { return h.dim }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

// Encode implements Encoder.
func (h *HTTPEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Model: h.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(b))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, vec := range er.Embeddings {
		if len(vec) != h.dim {
			return nil, fmt.Errorf("embedding service returned dimension %d, want %d", len(vec), h.dim)
		}
		f := make([]float32, len(vec))
		for j, x := range vec {
			f[j] = float32(x)
		}
		out[i] = f
	}
	return out, nil
}
