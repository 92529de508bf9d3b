package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/chat2course/internal/analyzer"
	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/orchestrator"
	"github.com/rcliao/chat2course/internal/store"
)

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	svc Service
	log *logger.Logger
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// respond maps an orchestrator status onto an HTTP status, keeping the body intact.
func respond(c *gin.Context, resp *orchestrator.Response) {
	httpStatus, code := http.StatusOK, 0
	switch resp.Status {
	case orchestrator.StatusNotFound:
		httpStatus, code = http.StatusNotFound, 40401
	case orchestrator.StatusFailed:
		httpStatus, code = http.StatusUnprocessableEntity, 42201
	case orchestrator.StatusRetryable:
		httpStatus, code = http.StatusServiceUnavailable, 50301
	}
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": resp.Message,
		"data":    resp,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

type createCourseReq struct {
	Content          string `json:"content" binding:"required"`
	CourseName       string `json:"course_name"`
	ContinuePrevious *bool  `json:"continue_previous"`
}

func (h *Handler) CreateCourse(c *gin.Context) {
	var req createCourseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 40001, "content is required")
		return
	}
	cont := req.ContinuePrevious == nil || *req.ContinuePrevious
	resp, err := h.svc.CreateOrResume(c.Request.Context(), req.Content, req.CourseName, cont)
	if err != nil {
		h.log.Error("create course failed", "error", err)
		fail(c, http.StatusInternalServerError, 50001, "failed to create course")
		return
	}
	respond(c, resp)
}

type continueReq struct {
	AdditionalContent string `json:"additional_content"`
}

func (h *Handler) ContinueSession(c *gin.Context) {
	var req continueReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	resp, err := h.svc.Continue(c.Request.Context(), c.Param("id"), req.AdditionalContent)
	if err != nil {
		h.log.Error("continue session failed", "session_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, 50002, "failed to continue session")
		return
	}
	respond(c, resp)
}

func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, 40401, "session not found or expired")
		return
	}
	if err != nil {
		h.log.Error("session status failed", "session_id", c.Param("id"), "error", err)
		fail(c, http.StatusInternalServerError, 50003, "failed to load session")
		return
	}
	ok(c, snap)
}

type analyzeReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 40001, "content is required")
		return
	}
	a := h.svc.Analyze(req.Content)
	ok(c, gin.H{"analysis": a, "summary": analyzer.Summary(a)})
}

func (h *Handler) Analytics(c *gin.Context) {
	report, err := h.svc.Analytics(c.Request.Context())
	if err != nil {
		h.log.Error("analytics failed", "error", err)
		fail(c, http.StatusInternalServerError, 50004, "failed to load analytics")
		return
	}
	ok(c, report)
}
