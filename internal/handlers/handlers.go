package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/auth"
	"github.com/example/dust-check/internal/imagesource"
	"github.com/example/dust-check/internal/predictor"
	"github.com/example/dust-check/internal/workflow"
)

// multipartOverhead is the slack allowed on top of the image size for
// multipart boundaries and headers.
const multipartOverhead = 512 * 1024

const maxThumbnailSize = 2048

// HealthChecker reports the prediction service status.
type HealthChecker interface {
	Health(ctx context.Context) (*predictor.Health, error)
}

// Handler serves the workflow API.
type Handler struct {
	registry      *workflow.Registry
	metrics       *workflow.Metrics
	previews      *imagesource.Previews
	health        HealthChecker
	maxUploadSize int64
	logger        *zap.Logger
}

// NewHandler wires the API to its collaborators.
func NewHandler(registry *workflow.Registry, metrics *workflow.Metrics, previews *imagesource.Previews, health HealthChecker, maxUploadSize int64, logger *zap.Logger) *Handler {
	return &Handler{
		registry:      registry,
		metrics:       metrics,
		previews:      previews,
		health:        health,
		maxUploadSize: maxUploadSize,
		logger:        logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", h.getHealth)

	api := router.Group("/api")
	api.Use(authMiddleware)
	api.GET("/workflow", h.getWorkflow)
	api.POST("/workflow/image", h.selectImage)
	api.POST("/workflow/analyze", h.analyze)
	api.POST("/workflow/reset", h.reset)
	api.GET("/previews/:id", h.getPreview)
	api.POST("/logout", h.logout)
	api.GET("/metrics", h.getMetrics)
}

func (h *Handler) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	upstream := gin.H{"status": "unreachable"}
	if health, err := h.health.Health(ctx); err != nil {
		upstream["error"] = err.Error()
	} else {
		upstream = gin.H{"status": health.Status, "model": health.Model}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "prediction_service": upstream})
}

func (h *Handler) workflowFor(c *gin.Context) (*workflow.Workflow, bool) {
	identity, ok := auth.GetIdentity(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	gate, ok := auth.GetGate(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	return h.registry.Open(identity, gate), true
}

func (h *Handler) getWorkflow(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *Handler) selectImage(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	file, err := readImageFile(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image"})
		return
	}

	snap, err := wf.SelectFile(c.Request.Context(), file)
	respond(c, snap, err)
}

// readImageFile returns the "image" form file, or nil when the request has none.
func readImageFile(c *gin.Context) (*imagesource.File, error) {
	header, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, nil
	}

	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &imagesource.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *Handler) analyze(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}
	// A client disconnect must not abort the upload; the result is kept for
	// the next poll of GET /api/workflow.
	snap, err := wf.Analyze(context.WithoutCancel(c.Request.Context()))
	respond(c, snap, err)
}

func (h *Handler) reset(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wf.Reset())
}

func (h *Handler) getPreview(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}
	payload, ok := wf.Preview(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}

	c.Header("Cache-Control", "no-store")
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxThumbnailSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 1 and 2048"})
			return
		}
		thumb, err := imagesource.Thumbnail(payload, size)
		if err == nil {
			c.Data(http.StatusOK, "image/jpeg", thumb)
			return
		}
		h.logger.Warn("thumbnail rendering failed; serving original",
			zap.String("filename", payload.Filename), zap.Error(err))
	}
	c.Data(http.StatusOK, payload.MediaType, payload.Data)
}

func (h *Handler) logout(c *gin.Context) {
	wf, ok := h.workflowFor(c)
	if !ok {
		return
	}
	identity, _ := auth.GetIdentity(c.Request.Context())

	wf.Logout(context.WithoutCancel(c.Request.Context()))
	h.registry.Close(identity.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

func (h *Handler) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"analyses":        h.metrics.Summary(),
		"active_sessions": h.registry.Len(),
		"live_previews":   h.previews.Live(),
	})
}

func respond(c *gin.Context, snap workflow.Snapshot, err error) {
	if err != nil {
		c.JSON(apperrors.StatusCode(err), gin.H{
			"error": apperrors.Message(err),
			"state": snap,
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}
