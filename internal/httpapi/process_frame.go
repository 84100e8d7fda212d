package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aperturelabs/livegateway/internal/privacy"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

type processFrameRequest struct {
	ImageData string `json:"image_data" binding:"required"`
	FrameID   string `json:"frame_id" binding:"required"`
	Timestamp int64  `json:"timestamp"`
}

type processFrameResponse struct {
	ProcessedImage string `json:"processed_image,omitempty"`
	BlurApplied    bool   `json:"blur_applied"`
	FaceCount      int    `json:"face_count"`
	Verdict        string `json:"verdict"`
}

// ProcessFrame implements POST /process-frame (spec.md §4.8), running the
// PrivacyShield pipeline (§4.5) and caching the response by frame_id so
// repeated submissions of the same frame are idempotent.
func (a *API) ProcessFrame(c *gin.Context) {
	var req processFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFault(c, commons.BadRequest("invalid process-frame request: "+err.Error()))
		return
	}

	if cached, ok := a.frameCache.Get(c.Request.Context(), req.FrameID); ok {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	jpeg, err := decodeImageData(req.ImageData)
	if err != nil {
		writeFault(c, commons.BadRequest("invalid image_data encoding"))
		return
	}

	verdict := a.shield.Classify(c.Request.Context(), jpeg)

	resp := processFrameResponse{
		BlurApplied: verdict.Kind == privacy.VerdictBlurred,
		FaceCount:   verdict.FaceCount,
		Verdict:     string(verdict.Kind),
	}
	if verdict.Kind == privacy.VerdictBlurred {
		resp.ProcessedImage = encodeImageData(verdict.ProcessedBytes)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeFault(c, commons.Internal("encode process-frame response", err))
		return
	}
	a.frameCache.Put(c.Request.Context(), req.FrameID, body)
	c.Data(http.StatusOK, "application/json", body)
}
