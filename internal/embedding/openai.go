package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOption configures an OpenAIExtractor.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the extractor at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = client }
}

// OpenAIExtractor embeds captions and text queries through an OpenAI-compatible embeddings
// endpoint. It has no vision tower: image requests fail with ErrUnsupportedInput, so it suits
// deployments where photos are indexed by caption.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor returns an extractor for model producing dim-length vectors.
func NewOpenAIExtractor(apiKey, model string, dim int, opts ...OpenAIOption) *OpenAIExtractor {
	cfg := openAIConfig{httpClient: http.DefaultClient}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAIExtractor{client: &client, model: model, dim: dim}
}

// Extract embeds text. Image input is not supported.
func (o *OpenAIExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	if imagePath != "" {
		return nil, fmt.Errorf("%w: %s has no image encoder", ErrUnsupportedInput, o.model)
	}
	if text == "" {
		return nil, ErrEmptyInput
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions:     openai.Int(int64(o.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(resp.Data))
	}
	vec := float64sToFloat32s(resp.Data[0].Embedding)
	if len(vec) != o.dim {
		return nil, fmt.Errorf("embedding has %d components, want %d", len(vec), o.dim)
	}
	NormalizeL2Slice(vec)
	return vec, nil
}

// Dimensions returns the requested embedding dimension.
func (o *OpenAIExtractor) Dimensions() int {
	return o.dim
}

// Close is a no-op.
func (o *OpenAIExtractor) Close() error {
	return nil
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
