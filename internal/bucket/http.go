package bucket

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loftdrive/loft/internal/auth"
)

// RegisterRoutes mounts bucket endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/buckets", handler.createBucket)
	group.GET("/buckets", handler.listBuckets)
	group.GET("/buckets/:bucketName", handler.getBucket)
	group.DELETE("/buckets/:bucketName", handler.deleteBucket)
	group.DELETE("/buckets", handler.deleteMatching)
}

type httpHandler struct {
	service *Service
}

type createBucketRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

func (h *httpHandler) createBucket(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.Create(c.Request.Context(), req.Name, user.Username)
	if err != nil {
		switch {
		case errors.Is(err, ErrBucketNameExists):
			c.JSON(http.StatusConflict, gin.H{"error": "bucket name already exists"})
		case errors.Is(err, ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket name"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bucket"})
		}
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *httpHandler) listBuckets(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entries, err := h.service.List(c.Request.Context(), Query{
		Owner:   user.Username,
		Pattern: c.Query("pattern"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list buckets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": entries})
}

func (h *httpHandler) getBucket(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entry, err := h.service.Lookup(c.Request.Context(), c.Param("bucketName"), user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch bucket"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) deleteBucket(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	removed, err := h.service.Remove(c.Request.Context(), Query{
		Owner: user.Username,
		Name:  c.Param("bucketName"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete bucket"})
		return
	}
	if len(removed) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// deleteMatching removes every owned bucket matching the pattern filter, or
// all of them when no filter is given.
func (h *httpHandler) deleteMatching(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	removed, err := h.service.Remove(c.Request.Context(), Query{
		Owner:   user.Username,
		Pattern: c.Query("pattern"),
	})
	if err != nil {
		// buckets removed before the failure stay removed; report both
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to delete buckets",
			"removed": removed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
