// Package spatial implements the SurfaceAnalyzer collaborator the
// /spatial endpoint (spec.md §4.8) delegates to: given a still frame and a
// click coordinate, return the bounding box and material/color attribution
// of the surface under the cursor. Per SPEC_FULL.md §9's Open Question
// resolution, this consolidates onto genai's GenerateContent call with a
// JSON response schema rather than a second bespoke model client,
// reusing the same google.golang.org/genai dependency internal/upstream
// already wires for the Live API.
package spatial

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// Query is one /spatial request (spec.md §4.8).
type Query struct {
	Image  []byte
	X, Y   int
	Width  int
	Height int
	Type   string
}

// Surface is the model's attribution of the surface under the click
// point, normalized to 0..1000 per spec.md §6's coordinate convention.
type Surface struct {
	Type        string     `json:"type"`
	Material    string     `json:"material"`
	Color       string     `json:"color"`
	BoundingBox [4]float64 `json:"bounding_box"` // [ymin, xmin, ymax, xmax]
	Reasoning   string     `json:"reasoning"`
}

// Analyzer is the model-backed collaborator spec.md §4.8 calls "a
// model-backed analyzer".
type Analyzer interface {
	Analyze(ctx context.Context, q Query) (*Surface, error)
}

// responseSchema pins GenerateContent's output to exactly the Surface
// shape, so the handler never has to defend against free-form prose.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"type":     {Type: genai.TypeString},
		"material": {Type: genai.TypeString},
		"color":    {Type: genai.TypeString},
		"bounding_box": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeNumber},
		},
		"reasoning": {Type: genai.TypeString},
	},
	Required: []string{"type", "material", "color", "bounding_box", "reasoning"},
}

type genaiAnalyzer struct {
	client *genai.Client
	model  string
	logger commons.Logger
}

// NewGenAIAnalyzer builds a production Analyzer against the given model id
// (e.g. "gemini-2.0-flash"), sharing the API key with UpstreamLiveClient.
func NewGenAIAnalyzer(ctx context.Context, apiKey, model string, logger commons.Logger) (Analyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &genaiAnalyzer{client: client, model: model, logger: logger}, nil
}

func (a *genaiAnalyzer) Analyze(ctx context.Context, q Query) (*Surface, error) {
	prompt := fmt.Sprintf(
		"Identify the physical surface at pixel (%d, %d) of a %dx%d image, "+
			"optionally constrained to type hint %q. Return its normalized "+
			"bounding box in 0..1000 [ymin, xmin, ymax, xmax] coordinates, "+
			"its material, its dominant color, and a one-sentence reasoning.",
		q.X, q.Y, q.Width, q.Height, q.Type,
	)

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: q.Image}},
		},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty analysis response")
	}

	var surface Surface
	if err := json.Unmarshal([]byte(resp.Candidates[0].Content.Parts[0].Text), &surface); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &surface, nil
}
