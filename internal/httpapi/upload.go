package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/iammarcin/streamgate/internal/apierr"
)

const maxUploadBytes = 25 << 20 // 25 MiB

// Upload handles POST /storage/upload: a multipart form file field "file",
// stored through the configured provider.BlobStore and returned as a URL.
func (h *Handlers) Upload(c *gin.Context) {
	if h.blob == nil {
		apierr.AbortConfiguration(c, "no blob store configured", nil)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		apierr.AbortValidation(c, "missing multipart field \"file\"", gin.H{"detail": err.Error()})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		apierr.Abort(c, apierr.KindPersistence, "failed to read uploaded file", nil)
		return
	}
	defer f.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), fileHeader.Filename)

	url, err := h.blob.Put(c.Request.Context(), key, f, contentType)
	if err != nil {
		h.log.Error("blob upload failed", "error", err.Error())
		apierr.Abort(c, apierr.KindPersistence, "failed to store uploaded file", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "content_type": contentType})
}
