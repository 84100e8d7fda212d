package privacy

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// detectRequest/detectResponse mirror a typical face-detection REST API:
// base64 image in, pixel-space bounding boxes with confidence out.
type detectRequest struct {
	ImageData string `json:"image_data"`
}

type detectedFace struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category,omitempty"` // e.g. "present", "occluded"
}

type detectResponse struct {
	Faces []detectedFace `json:"faces"`
}

type detectErrorBody struct {
	Message string `json:"message"`
}

// restyFaceDetector calls an HTTP face-detection collaborator, shaped
// after the teacher's internal_callers.stabilityAiCaller REST-caller
// pattern (endpoint + header helpers, status-code branching, a typed
// error body) but built on go-resty instead of net/http directly.
type restyFaceDetector struct {
	client *resty.Client
	logger commons.Logger
}

// NewHTTPFaceDetector builds a FaceDetector that POSTs to baseURL + "/detect" with
// the given per-call timeout (spec.md §5 "face-detection call 2s").
func NewHTTPFaceDetector(baseURL string, timeout time.Duration, logger commons.Logger) FaceDetector {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &restyFaceDetector{client: client, logger: logger}
}

func (d *restyFaceDetector) Detect(ctx context.Context, jpeg []byte) ([]FaceBox, error) {
	var out detectResponse
	var apiErr detectErrorBody

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(detectRequest{ImageData: base64.StdEncoding.EncodeToString(jpeg)}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/detect")
	if err != nil {
		return nil, fmt.Errorf("face detector request: %w", err)
	}

	if resp.IsError() {
		if apiErr.Message == "" {
			apiErr.Message = resp.Status()
		}
		return nil, fmt.Errorf("face detector error: %s", apiErr.Message)
	}

	boxes := make([]FaceBox, 0, len(out.Faces))
	for _, f := range out.Faces {
		// Finer-than-binary categories fold to "present" per spec.md §9;
		// any returned face box counts toward the crowd/blur decision
		// regardless of Category.
		boxes = append(boxes, FaceBox{X: f.X, Y: f.Y, W: f.Width, H: f.Height, Confidence: f.Confidence})
	}
	return boxes, nil
}
