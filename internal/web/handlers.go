package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

const maxBodySize = 64 << 10 // 64KB

type loadRequest struct {
	FolderPath string `json:"folderPath"`
}

type statusRequest struct {
	FolderPath string            `json:"folderPath"`
	TaskID     string            `json:"taskId"`
	Status     models.TaskStatus `json:"status"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedTaskID),
		errors.Is(err, models.ErrMissingRequirementID),
		errors.Is(err, models.ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDocumentNotFound),
		errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrCorruptDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrFolderNotConfigured),
		errors.Is(err, models.ErrNoFolderSelected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

// bindJSON decodes an optional JSON body. An empty body leaves dst untouched.
func bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"observers": s.svc.Observers(c.Request.Context()),
	})
}

func (s *Server) handleCurrent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": s.svc.Current(c.Request.Context()),
	})
}

func (s *Server) handleLoad(c *gin.Context) {
	var req loadRequest
	if !bindJSON(c, &req) {
		return
	}
	// A server has no terminal to pick a folder from.
	if strings.TrimSpace(req.FolderPath) == "" {
		s.fail(c, fmt.Errorf("%w: folderPath", models.ErrMissingParameter))
		return
	}
	snap, err := s.svc.Load(c.Request.Context(), req.FolderPath)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": snap,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	snap, err := s.svc.Refresh(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": snap,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.svc.Reset(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	change, err := s.svc.UpdateStatus(c.Request.Context(), req.FolderPath, req.TaskID, req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": change.Message,
		"change":  change,
	})
}

// handleStream joins the workspace as an observer and forwards every
// snapshot as a "snapshot" event until the client disconnects or the
// registry evicts the stream.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	obs := core.NewChannelObserver[*models.Snapshot](s.buffer)
	defer obs.Close()

	sub, err := s.svc.Join(ctx, obs)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer s.svc.Leave(sub)

	streamEvents(c, s.keepAlive, obs, "snapshot")
}

func (s *Server) handleRequestBuild(c *gin.Context) {
	res := s.svc.RequestBuild(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"delivered": res.Delivered,
	})
}

func (s *Server) handleBuildStream(c *gin.Context) {
	obs := core.NewChannelObserver[models.BuildRequest](s.buffer)
	defer obs.Close()

	sub, err := s.svc.JoinBuildRequests(c.Request.Context(), obs)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer s.svc.LeaveBuildRequests(sub)

	streamEvents(c, s.keepAlive, obs, "build")
}

func streamEvents[T any](c *gin.Context, keepAlive time.Duration, obs *core.ChannelObserver[T], event string) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	// Flush headers so clients see the stream open before the first event.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-obs.Done():
			// Tell an evicted client to reconnect for a fresh replay.
			if err := obs.Err(); err != nil {
				c.SSEvent("evicted", err.Error())
			}
			return false
		case payload := <-obs.C():
			c.SSEvent(event, payload)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			return true
		}
	})
}
