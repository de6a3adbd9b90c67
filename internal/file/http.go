package file

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loftdrive/loft/internal/auth"
	"github.com/loftdrive/loft/internal/blob"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/quota"
)

const maxMetaBytes = 64 << 10

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service, buckets *bucket.Service) {
	handler := &httpHandler{service: service, buckets: buckets}
	group.POST("/buckets/:bucketName/files", handler.uploadBatch)
	group.GET("/buckets/:bucketName/files", handler.listFiles)
	group.GET("/files/:fileID", handler.getFile)
	group.GET("/files/:fileID/download", handler.downloadFile)
	group.DELETE("/files/:fileID", handler.deleteFile)
}

type httpHandler struct {
	service *Service
	buckets *bucket.Service
}

// uploadBatch streams a multipart request: every non-"meta" part with an
// allowed content type becomes one upload; a part named "meta" is an opaque
// JSON attribute bag applied to the whole batch. Malformed meta rolls the
// batch back.
func (h *httpHandler) uploadBatch(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bkt, ok := h.resolveBucket(c, user.Username)
	if !ok {
		return
	}

	makePublic := c.Query("public") == "true"
	parent, ok := parseParent(c)
	if !ok {
		return
	}

	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart body required"})
		return
	}

	var (
		entries []Entry
		ids     []uuid.UUID
		meta    []byte
	)

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed multipart body"})
			return
		}

		if part.FormName() == "meta" {
			meta, err = io.ReadAll(io.LimitReader(part, maxMetaBytes))
			part.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable meta part"})
				return
			}
			continue
		}

		contentType := part.Header.Get("Content-Type")
		if !allowedContentType(contentType) {
			// disallowed parts are skipped, not fatal to the batch
			io.Copy(io.Discard, part)
			part.Close()
			continue
		}

		name := part.FileName()
		if name == "" {
			name = part.FormName()
		}

		entry, err := h.service.UploadStream(c.Request.Context(), UploadPart{
			Name:        name,
			ContentType: contentType,
			Reader:      part,
		}, *bkt, user.Username, makePublic, parent)
		part.Close()
		if err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload file"})
			return
		}
		entries = append(entries, entry)
		ids = append(ids, entry.ID)
	}

	if len(meta) > 0 {
		if err := h.service.ApplyMeta(c.Request.Context(), ids, meta); err != nil {
			if errors.Is(err, ErrMalformedMeta) {
				if _, rbErr := h.service.RemoveFilesByID(c.Request.Context(), ids); rbErr != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to roll back batch"})
					return
				}
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed meta attributes"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply meta"})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"files": entries})
}

func (h *httpHandler) listFiles(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	bkt, ok := h.resolveBucket(c, user.Username)
	if !ok {
		return
	}

	list, err := h.service.List(c.Request.Context(), Query{Owner: user.Username, BucketID: bkt.ID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": list})
}

func (h *httpHandler) getFile(c *gin.Context) {
	entry, ok := h.ownedFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	entry, ok := h.ownedFile(c)
	if !ok {
		return
	}

	err := h.service.Download(c.Request.Context(), c.GetHeader("Accept-Encoding"), ginSink{c}, entry)
	if err != nil {
		if blob.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to download file"})
		return
	}
}

func (h *httpHandler) deleteFile(c *gin.Context) {
	entry, ok := h.ownedFile(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ownedFile loads the :fileID entry and enforces ownership, answering the
// request itself on any failure.
func (h *httpHandler) ownedFile(c *gin.Context) (Entry, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return Entry{}, false
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return Entry{}, false
	}

	entry, err := h.service.Get(c.Request.Context(), fileID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return Entry{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch file"})
		return Entry{}, false
	}
	if entry.Owner != user.Username {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return Entry{}, false
	}
	return entry, true
}

func (h *httpHandler) resolveBucket(c *gin.Context, owner string) (*bucket.Entry, bool) {
	bkt, err := h.buckets.Lookup(c.Request.Context(), c.Param("bucketName"), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve bucket"})
		return nil, false
	}
	if bkt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		return nil, false
	}
	return bkt, true
}

func parseParent(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("parent")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent file id"})
		return nil, false
	}
	return &id, true
}

// allowedContentType is the upload allow-list. Unknown or executable types
// do not become uploads.
func allowedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") ||
		strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "audio/") ||
		strings.HasPrefix(mediaType, "video/") {
		return true
	}
	switch mediaType {
	case "application/json",
		"application/javascript",
		"application/xml",
		"application/xhtml+xml",
		"application/pdf",
		"application/zip",
		"application/gzip",
		"application/octet-stream":
		return true
	}
	return false
}

// ginSink adapts the gin response writer to the download pipeline.
type ginSink struct {
	c *gin.Context
}

func (g ginSink) Header(key, value string) { g.c.Header(key, value) }

func (g ginSink) Write(p []byte) (int, error) { return g.c.Writer.Write(p) }
