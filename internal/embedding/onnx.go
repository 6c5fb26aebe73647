//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the text and (optional) vision towers of a dual-encoder model.
type ONNXConfig struct {
	TextModelPath  string
	ImageModelPath string
	Dimensions     int
	MaxTokens      int
	ImageSize      int
}

// ONNXExtractor runs a dual-encoder model through ONNX Runtime. Text and image towers
// project into the same space; a request with both is the mean of the two unit vectors.
// It requires CGO and the onnxruntime shared library.
type ONNXExtractor struct {
	text  *onnxTower
	image *onnxTower

	dimensions int
	maxTokens  int
	imageSize  int
	tokenizer  Tokenizer
}

// onnxTower is one session with pre-allocated tensors; Run() reads inputs and writes output in place.
type onnxTower struct {
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[int64]
	pixels  *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

func (t *onnxTower) destroy() error {
	if t == nil {
		return nil
	}
	var err error
	if t.session != nil {
		err = t.session.Destroy()
		t.session = nil
	}
	for _, in := range t.inputs {
		_ = in.Destroy()
	}
	t.inputs = nil
	if t.pixels != nil {
		_ = t.pixels.Destroy()
		t.pixels = nil
	}
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
	return err
}

// NewONNXExtractor creates the text session and, when ImageModelPath is set, the image session.
// InitializeEnvironment is called if not already done.
func NewONNXExtractor(cfg ONNXConfig) (*ONNXExtractor, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.MaxTokens < 2 {
		cfg.MaxTokens = 77
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 224
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXExtractor{
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		imageSize:  cfg.ImageSize,
		tokenizer:  &SimpleTokenizer{},
	}
	text, err := newTextTower(cfg.TextModelPath, cfg.MaxTokens, cfg.Dimensions)
	if err != nil {
		return nil, err
	}
	e.text = text
	if cfg.ImageModelPath != "" {
		img, err := newImageTower(cfg.ImageModelPath, cfg.ImageSize, cfg.Dimensions)
		if err != nil {
			_ = text.destroy()
			return nil, err
		}
		e.image = img
	}
	return e, nil
}

func newTextTower(modelPath string, maxTokens, dimensions int) (*onnxTower, error) {
	shape := ort.NewShape(1, int64(maxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attention, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		_ = inputIDs.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		_ = inputIDs.Destroy()
		_ = attention.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tower := &onnxTower{inputs: []*ort.Tensor[int64]{inputIDs, attention}, output: output}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{inputIDs, attention},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		_ = tower.destroy()
		return nil, fmt.Errorf("failed to create ONNX text session: %w", err)
	}
	tower.session = session
	return tower, nil
}

func newImageTower(modelPath string, size, dimensions int) (*onnxTower, error) {
	pixels, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		_ = pixels.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tower := &onnxTower{pixels: pixels, output: output}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixels},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		_ = tower.destroy()
		return nil, fmt.Errorf("failed to create ONNX image session: %w", err)
	}
	tower.session = session
	return tower, nil
}

// Extract embeds the image, the text, or both.
func (e *ONNXExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	if imagePath == "" && text == "" {
		return nil, ErrEmptyInput
	}
	var imageVec, textVec []float32
	var err error
	if imagePath != "" {
		if imageVec, err = e.embedImage(ctx, imagePath); err != nil {
			return nil, err
		}
	}
	if text != "" {
		if textVec, err = e.embedText(ctx, text); err != nil {
			return nil, err
		}
	}
	vec := fuse(imageVec, textVec)
	NormalizeL2Slice(vec)
	return vec, nil
}

func (e *ONNXExtractor) embedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask := e.tokenizer.Tokenize(text, e.maxTokens)

	e.text.mu.Lock()
	defer e.text.mu.Unlock()
	copy(e.text.inputs[0].GetData(), ids)
	copy(e.text.inputs[1].GetData(), mask)
	if err := e.text.session.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	out := make([]float32, e.dimensions)
	copy(out, e.text.output.GetData())
	return out, nil
}

func (e *ONNXExtractor) embedImage(ctx context.Context, path string) ([]float32, error) {
	if e.image == nil {
		return nil, fmt.Errorf("%w: no image model configured", ErrUnsupportedInput)
	}
	pixels, err := LoadImageTensor(path, e.imageSize)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.image.mu.Lock()
	defer e.image.mu.Unlock()
	copy(e.image.pixels.GetData(), pixels)
	if err := e.image.session.Run(); err != nil {
		return nil, fmt.Errorf("image inference failed: %w", err)
	}
	out := make([]float32, e.dimensions)
	copy(out, e.image.output.GetData())
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXExtractor) Dimensions() int {
	return e.dimensions
}

// Close destroys both sessions and their tensors.
func (e *ONNXExtractor) Close() error {
	err := e.text.destroy()
	if imgErr := e.image.destroy(); err == nil {
		err = imgErr
	}
	return err
}
