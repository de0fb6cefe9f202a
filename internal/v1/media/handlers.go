package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
)

// uploadFieldName is the multipart form field carrying the media bytes.
const uploadFieldName = "video"

// Handler exposes the media store over HTTP.
type Handler struct {
	store *Store
}

// NewHandler creates a Handler backed by the given store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Upload handles POST /api/upload. The file arrives as multipart form field
// "video" and must declare a video/* content type.
func (h *Handler) Upload(c *gin.Context) {
	// Bound the multipart parse itself, with headroom for form framing; the
	// exact cap is enforced against the file size below.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.store.maxBytes+(10<<20))

	fileHeader, err := c.FormFile(uploadFieldName)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			metrics.UploadsTotal.WithLabelValues("too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "no video file provided"})
		return
	}

	declaredType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(declaredType, "video/") {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "only video files are accepted"})
		return
	}

	if fileHeader.Size > h.store.maxBytes {
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	desc, err := h.store.Put(c.Request.Context(), fileHeader.Filename, declaredType, file)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			metrics.UploadsTotal.WithLabelValues("too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		logging.Error(c.Request.Context(), "Failed to store upload", zap.Error(err))
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytes.Add(float64(desc.Size))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"video": gin.H{
			"id":       desc.ID,
			"name":     desc.Name,
			"size":     desc.Size,
			"type":     desc.MimeType,
			"filename": desc.StorageKey,
		},
	})
}

// Stream handles GET /api/video/:storageKey with single-range semantics:
// a valid Range header gets a 206 slice, an unsatisfiable one gets 416 with
// "bytes */<size>", and no Range header gets the whole file as 200.
func (h *Handler) Stream(c *gin.Context) {
	key := c.Param("storageKey")

	file, info, err := h.store.Open(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.RangeRequests.WithLabelValues("not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
			return
		}
		logging.Error(c.Request.Context(), "Failed to open media file", zap.String("storage_key", key), zap.Error(err))
		metrics.RangeRequests.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open video"})
		return
	}
	defer file.Close()

	size := info.Size()
	contentType := resolveContentType(key, c.Query("type"))

	// Every playback surface may live on a different origin; media is
	// served permissively and addressed only by unguessable key.
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Range")
	c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentType)

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		metrics.RangeRequests.WithLabelValues("full").Inc()
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, file)
		return
	}

	start, end, ok := parseByteRange(rangeHeader, size)
	if !ok {
		metrics.RangeRequests.WithLabelValues("unsatisfiable").Inc()
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		metrics.RangeRequests.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to seek video"})
		return
	}

	length := end - start + 1
	metrics.RangeRequests.WithLabelValues("partial").Inc()
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Header("Content-Length", strconv.FormatInt(length, 10))
	c.Status(http.StatusPartialContent)
	_, _ = io.CopyN(c.Writer, file, length)
}

// StreamOptions answers the CORS preflight for the streaming route.
func (h *Handler) StreamOptions(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Range")
	c.Status(http.StatusNoContent)
}

// ListStorage handles GET /api/admin/storage.
func (h *Handler) ListStorage(c *gin.Context) {
	files, err := h.store.List()
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to list storage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list storage"})
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	c.JSON(http.StatusOK, gin.H{
		"files":      files,
		"count":      len(files),
		"totalBytes": total,
	})
}

// Cleanup handles DELETE /api/admin/cleanup?days=N (default 7).
func (h *Handler) Cleanup(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		days = n
	}

	removed, err := h.store.Cleanup(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		logging.Error(c.Request.Context(), "Cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// CleanupAll handles DELETE /api/admin/cleanup-all.
func (h *Handler) CleanupAll(c *gin.Context) {
	removed, err := h.store.CleanupAll()
	if err != nil {
		logging.Error(c.Request.Context(), "Cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// resolveContentType picks the response content type: explicit ?type=
// override first, then the key's extension, defaulting to video/mp4.
// Stored keys are extensionless uuids, so the default is the common path.
func resolveContentType(key, override string) string {
	if override != "" {
		return override
	}
	switch strings.ToLower(filepath.Ext(key)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

// parseByteRange parses a single "bytes=a-b" range against the given size.
// An omitted end means "through the last byte"; an end past the last byte is
// clamped. Returns ok=false for malformed headers and for starts at or past
// the end of the file.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)

	// Multi-range requests are not supported.
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	if startStr == "" {
		// Suffix range: the final n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return 0, 0, false
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if start >= size {
		return 0, 0, false
	}

	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}
