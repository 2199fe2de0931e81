package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"clipsmith/media"
	"clipsmith/queue"
	"clipsmith/store"
	"clipsmith/tasks"
)

// RegisterVideoRoutes registers the job-management endpoints.
func RegisterVideoRoutes(r *gin.Engine, ctrl *Controllers) {
	g := r.Group("/api/videos")
	g.POST("", ctrl.handleSubmitVideo)
	g.GET("", ctrl.handleListVideos)
	g.GET("/status", ctrl.handleStatusPoll)
	g.GET("/errors", ctrl.handleErrorLog)
	g.GET("/:id", ctrl.handleVideoDetail)
	g.POST("/:id/reprocess", ctrl.handleReprocess)
	g.POST("/:id/batch-cut", ctrl.handleBatchCut)
	g.POST("/:id/clips", ctrl.handleManualClip)
	g.DELETE("", ctrl.handleDeleteVideos)
}

// SubmitVideoRequest represents a new job submission.
type SubmitVideoRequest struct {
	URL        string `json:"url" binding:"required"`
	Resolution string `json:"resolution"`
}

// SubmitVideoResponse reports the created (or pre-existing) job.
type SubmitVideoResponse struct {
	VideoID   uint   `json:"video_id"`
	Duplicate bool   `json:"duplicate"`
	Message   string `json:"message"`
}

// handleSubmitVideo creates a job and dispatches the orchestrator.
func (ctrl *Controllers) handleSubmitVideo(c *gin.Context) {
	var req SubmitVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an http(s) URL"})
		return
	}

	resolution := req.Resolution
	if resolution == "" {
		resolution = ctrl.cfg.DefaultResolution
	}

	title := ""
	if ctrl.titles != nil {
		if t, err := ctrl.titles.Title(c.Request.Context(), req.URL); err == nil {
			title = t
		} else {
			log.Printf("Title lookup failed for %s: %v", req.URL, err)
		}
	}

	video, created, err := ctrl.store.CreateVideo(req.URL, title, resolution)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create video record: " + err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusOK, SubmitVideoResponse{
			VideoID:   video.ID,
			Duplicate: true,
			Message:   "video with this URL already exists",
		})
		return
	}

	env := queue.NewEnvelope(queue.KindOrchestrate, video.ID)
	if err := ctrl.queue.Enqueue(c.Request.Context(), env); err != nil {
		// The row exists; surface the dispatch failure on it.
		ctrl.store.MarkVideoError(video.ID, err.Error(), "Dispatch Error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch processing: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, SubmitVideoResponse{
		VideoID: video.ID,
		Message: "video processing started",
	})
}

// handleListVideos lists all jobs, newest first.
func (ctrl *Controllers) handleListVideos(c *gin.Context) {
	videos, err := ctrl.store.Videos()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// handleStatusPoll returns the live projection of every job still moving
// through the pipeline. No caching: the response reflects the store at
// call time.
func (ctrl *Controllers) handleStatusPoll(c *gin.Context) {
	projections, err := ctrl.store.VideosByStatuses([]string{
		store.VideoPending, store.VideoQueued, store.VideoDownloading, store.VideoProcessing,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": projections, "polled_at": time.Now().UTC()})
}

// handleErrorLog lists jobs currently in Error status with their failing step.
func (ctrl *Controllers) handleErrorLog(c *gin.Context) {
	videos, err := ctrl.store.VideosWithErrors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type errorEntry struct {
		VideoID      uint      `json:"video_id"`
		SourceURL    string    `json:"source_url"`
		FailedStep   string    `json:"failed_step"`
		ErrorMessage string    `json:"error_message"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
	entries := make([]errorEntry, 0, len(videos))
	for _, v := range videos {
		entries = append(entries, errorEntry{
			VideoID:      v.ID,
			SourceURL:    v.SourceURL,
			FailedStep:   v.ProcessingStatus,
			ErrorMessage: v.ErrorMessage,
			UpdatedAt:    v.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"errors": entries})
}

// handleVideoDetail returns one job with clips, transcripts, metadata and
// the agent-run ledger.
func (ctrl *Controllers) handleVideoDetail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	video, err := ctrl.store.VideoDetail(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("video %d not found", id)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, video)
}

// handleReprocess resets a job and re-runs orchestration with the
// download step skipped when the file is still on disk. Existing clips
// are kept; only status, error and run history reset.
func (ctrl *Controllers) handleReprocess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !ctrl.store.VideoExists(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("video %d not found", id)})
		return
	}

	if err := ctrl.store.ResetForReprocess(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset video: " + err.Error()})
		return
	}

	env := queue.NewEnvelope(queue.KindOrchestrate, id)
	env.SkipDownload = true
	if err := ctrl.queue.Enqueue(c.Request.Context(), env); err != nil {
		ctrl.store.MarkVideoError(id, err.Error(), "Dispatch Error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch reprocessing: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id, "message": "reprocessing started"})
}

// BatchCutRequest carries cut points as timestamp strings.
type BatchCutRequest struct {
	Timestamps []string `json:"timestamps" binding:"required"`
	ClipType   string   `json:"clip_type"`
}

// handleBatchCut validates every timestamp, then dispatches the batch cut
// unit of work. One bad timestamp rejects the whole request with a
// per-item error list.
func (ctrl *Controllers) handleBatchCut(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req BatchCutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clipType := req.ClipType
	if clipType == "" {
		clipType = store.ClipTypeBatch
	}
	if clipType != store.ClipTypeBatch && clipType != store.ClipTypeShort {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported clip_type %q", clipType)})
		return
	}
	if !ctrl.store.VideoExists(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("video %d not found", id)})
		return
	}

	cutPoints := make([]float64, 0, len(req.Timestamps))
	var itemErrors []string
	for i, raw := range req.Timestamps {
		seconds, err := media.ParseTimestamp(raw)
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("timestamp %d (%q): %v", i, raw, err))
			continue
		}
		cutPoints = append(cutPoints, seconds)
	}
	if len(itemErrors) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid timestamps in request",
			"errors": itemErrors,
		})
		return
	}

	// Keep the raw request on the row for later reference.
	if err := ctrl.store.SetManualTimestamps(id, strings.Join(req.Timestamps, ", ")); err != nil {
		log.Printf("⚠️  Failed to record timestamps for video %d: %v", id, err)
	}

	env := queue.NewEnvelope(queue.KindBatchDispatch, id)
	env.CutPoints = cutPoints
	env.ClipType = clipType
	if err := ctrl.queue.Enqueue(c.Request.Context(), env); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch batch cut: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"video_id":   id,
		"cut_points": len(cutPoints),
		"message":    "batch cut dispatched",
	})
}

// ManualClipRequest asks for one clip over an explicit range.
type ManualClipRequest struct {
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	ContextText string  `json:"context_text"`
}

// handleManualClip enqueues a single clip-processing task over the same
// path the batch dispatcher uses, so retries and failure handling behave
// identically.
func (ctrl *Controllers) handleManualClip(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ManualClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	duration := req.EndTime - req.StartTime
	if req.StartTime < 0 || duration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be greater than start_time and both non-negative"})
		return
	}
	if duration < ctrl.cfg.ClipMinDuration {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("clip duration %.2fs is below the %.2fs minimum", duration, ctrl.cfg.ClipMinDuration)})
		return
	}
	if duration > ctrl.cfg.ClipManualMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("clip duration %.2fs exceeds the %.2fs manual maximum", duration, ctrl.cfg.ClipManualMax)})
		return
	}
	if !ctrl.store.VideoExists(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("video %d not found", id)})
		return
	}

	name := media.ManualClipName(id, req.StartTime, req.EndTime, req.ContextText, time.Now())
	outputPath := filepath.Join(ctrl.cfg.ClipsDir, name)

	env := tasks.NewClipEnvelope(id, req.StartTime, req.EndTime, outputPath, store.ClipTypeManual)
	if err := ctrl.queue.Enqueue(c.Request.Context(), env); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch clip task: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"video_id":  id,
		"clip_path": outputPath,
		"message":   "clip processing dispatched",
	})
}

// DeleteVideosRequest names the jobs to remove.
type DeleteVideosRequest struct {
	IDs []uint `json:"ids" binding:"required"`
}

// handleDeleteVideos removes jobs, their dependents, and any referenced
// files that live inside the managed directories. Paths outside those
// directories are refused, whatever the store says.
func (ctrl *Controllers) handleDeleteVideos(c *gin.Context) {
	var req DeleteVideosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
		return
	}

	paths, deleted, err := ctrl.store.DeleteVideos(req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete videos: " + err.Error()})
		return
	}
	removed := ctrl.guard.RemoveAll(paths)

	c.JSON(http.StatusOK, gin.H{
		"deleted":       deleted,
		"files_removed": removed,
		"files_total":   len(paths),
	})
}

// pathID parses the :id path parameter, responding with 400 on garbage.
func pathID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid video id %q", raw)})
		return 0, false
	}
	return uint(id), true
}
