package file

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kmarat/filedrop/internal/quota"
)

// RegisterRoutes mounts the upload and download endpoints on the router.
func RegisterRoutes(router *gin.Engine, service *Service, publicURL string) {
	handler := &httpHandler{service: service, publicURL: publicURL}
	router.POST("/upload", handler.upload)
	router.GET("/file/:id", handler.download)
	// The trailing name segment is advisory; only the id is authoritative.
	router.GET("/file/:id/:name", handler.download)
}

type httpHandler struct {
	service   *Service
	publicURL string
}

func (h *httpHandler) upload(c *gin.Context) {
	identity := quota.IdentityFromAddr(c.ClientIP())

	// Deny over-quota identities before the multipart body is parsed, so a
	// rejected client costs no payload transfer.
	if err := h.service.Reserve(c.Request.Context(), identity); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			c.JSON(http.StatusInsufficientStorage, gin.H{"error": "quota exceeded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload file"})
		return
	}

	// Hard cap on the request body; headroom covers multipart framing.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxUploadBytes()+1*1024*1024)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	opts := UploadOptions{
		ExpiresMillis: parseFormInt64(c, "expires"),
		AccessLimit:   int(parseFormInt64(c, "accessLimit")),
		Password:      c.PostForm("password"),
	}

	meta, err := h.service.Upload(c.Request.Context(), identity, fileHeader, opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrPayloadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		case errors.Is(err, quota.ErrQuotaExceeded):
			c.JSON(http.StatusInsufficientStorage, gin.H{"error": "quota exceeded"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload file"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"link":        fmt.Sprintf("%s/file/%s/%s", h.publicURL, meta.ID, url.PathEscape(meta.OriginalName)),
		"expires":     meta.ExpiresAt.UTC().Format(time.RFC3339),
		"accessLimit": meta.AccessLimit,
	})
}

func (h *httpHandler) download(c *gin.Context) {
	id := c.Param("id")

	password := c.GetHeader("X-File-Password")
	if password == "" {
		password = c.Query("password")
	}

	entry, reader, err := h.service.Download(c.Request.Context(), id, password)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to download file"})
		return
	}
	defer reader.Close()

	c.Header("Content-Type", entry.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.OriginalName))
	c.Header("Content-Length", strconv.FormatInt(entry.SizeBytes, 10))

	_, copyErr := io.Copy(c.Writer, reader)
	h.service.Finish(c.Request.Context(), entry, copyErr == nil)

	if copyErr != nil {
		c.Status(http.StatusInternalServerError)
	}
}

func parseFormInt64(c *gin.Context, field string) int64 {
	raw := c.PostForm(field)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Unparsable policy fields fall back to defaults rather than
		// rejecting an already-received payload.
		return 0
	}
	return parsed
}
