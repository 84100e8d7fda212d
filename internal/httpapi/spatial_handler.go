package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aperturelabs/livegateway/internal/spatial"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

type spatialRequest struct {
	Image  string `json:"image" binding:"required"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width" binding:"required"`
	Height int    `json:"height" binding:"required"`
	Type   string `json:"type"`
}

type spatialResponse struct {
	Surface spatial.Surface `json:"surface"`
}

// Spatial implements POST /spatial (spec.md §4.8), delegating to the
// model-backed SurfaceAnalyzer and translating any upstream failure to
// kind=analysis_failed.
func (a *API) Spatial(c *gin.Context) {
	var req spatialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFault(c, commons.BadRequest("invalid spatial request: "+err.Error()))
		return
	}

	img, err := decodeImageData(req.Image)
	if err != nil {
		writeFault(c, commons.BadRequest("invalid image encoding"))
		return
	}

	surface, err := a.analyzer.Analyze(c.Request.Context(), spatial.Query{
		Image: img, X: req.X, Y: req.Y, Width: req.Width, Height: req.Height, Type: req.Type,
	})
	if err != nil {
		writeFault(c, commons.AnalysisFailed("spatial analysis failed", err))
		return
	}

	c.JSON(http.StatusOK, spatialResponse{Surface: *surface})
}
