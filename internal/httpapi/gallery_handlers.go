package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aperturelabs/livegateway/internal/gallery"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

const maxGalleryListLimit = 100

type snapshotRequest struct {
	Owner       string                  `json:"owner" binding:"required"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Before      string                  `json:"before" binding:"required"`
	After       string                  `json:"after" binding:"required"`
	Thumbnail   string                  `json:"thumbnail"`
	Metadata    gallery.SurfaceMetadata `json:"metadata"`
	Tags        []string                `json:"tags"`
	Visibility  string                  `json:"visibility"`
}

// Snapshot implements POST /snapshot (spec.md §4.9/§6): writes a before/after
// image pair plus metadata to the gallery and returns its id.
func (a *API) Snapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeFault(c, commons.BadRequest("invalid snapshot request: "+err.Error()))
		return
	}

	before, err := decodeImageData(req.Before)
	if err != nil {
		writeFault(c, commons.BadRequest("invalid before image encoding"))
		return
	}
	after, err := decodeImageData(req.After)
	if err != nil {
		writeFault(c, commons.BadRequest("invalid after image encoding"))
		return
	}
	var thumb []byte
	if req.Thumbnail != "" {
		thumb, err = decodeImageData(req.Thumbnail)
		if err != nil {
			writeFault(c, commons.BadRequest("invalid thumbnail image encoding"))
			return
		}
	}

	visibility := gallery.VisibilityPrivate
	if req.Visibility == string(gallery.VisibilityPublic) {
		visibility = gallery.VisibilityPublic
	}

	id, err := a.gallery.Save(c.Request.Context(), gallery.SaveInput{
		Owner:       req.Owner,
		Title:       req.Title,
		Description: req.Description,
		Before:      before,
		After:       after,
		Thumbnail:   thumb,
		Metadata:    req.Metadata,
		Tags:        req.Tags,
		Visibility:  visibility,
	})
	if err != nil {
		writeFaultFromGallery(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// ListGallery implements GET /gallery?limit= (spec.md §4.9).
func (a *API) ListGallery(c *gin.Context) {
	max := a.cfg.GalleryListMax
	if max <= 0 {
		max = maxGalleryListLimit
	}
	limit := parseLimit(c.Query("limit"), 20)
	if limit > max {
		limit = max
	}

	recs, err := a.gallery.ListPublic(c.Request.Context(), limit)
	if err != nil {
		writeFaultFromGallery(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs})
}

// GetGalleryRecord implements GET /gallery/{id} (spec.md §4.9), returning
// the record with minted download URLs.
func (a *API) GetGalleryRecord(c *gin.Context) {
	view, err := a.gallery.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeFault(c, commons.SessionNotFound("gallery record not found"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// IncrementViews implements the view-counter bump behind a minted
// GetGalleryRecord visit (spec.md §4.9 "increment_views(id)").
func (a *API) IncrementViews(c *gin.Context) {
	if err := a.gallery.IncrementViews(c.Request.Context(), c.Param("id")); err != nil {
		writeFaultFromGallery(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleLike implements the like-counter bump (spec.md §4.9 "toggle_like(id)").
func (a *API) ToggleLike(c *gin.Context) {
	if err := a.gallery.ToggleLike(c.Request.Context(), c.Param("id")); err != nil {
		writeFaultFromGallery(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadBlob serves the minted-URL download endpoint: it verifies the
// JWT token and streams the referenced blob, keeping the object store's
// layout opaque to clients (spec.md §4.9).
func (a *API) DownloadBlob(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		writeFault(c, commons.BadRequest("missing token"))
		return
	}

	key, err := gallery.VerifyToken(a.cfg.JWTSigningKey, token)
	if err != nil {
		writeFault(c, commons.Unauthorized("invalid or expired download token"))
		return
	}

	data, contentType, err := a.gallery.ResolveBlob(c.Request.Context(), key)
	if err != nil {
		writeFault(c, commons.SessionNotFound("blob not found"))
		return
	}

	c.Data(http.StatusOK, contentType, data)
}

func writeFaultFromGallery(c *gin.Context, err error) {
	if fault, ok := err.(*commons.Fault); ok {
		writeFault(c, fault)
		return
	}
	writeFault(c, commons.Internal("gallery operation failed", err))
}
