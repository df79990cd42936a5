package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatoria/clarifier/internal/clarify/service"
	"github.com/creatoria/clarifier/internal/common/errors"
	"github.com/creatoria/clarifier/internal/common/logger"
)

// Handler contains HTTP handlers for the clarification API
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log,
	}
}

// Clarify starts a session or applies an answer, depending on field_id.
// POST /api/v1/clarifications
//
// Rejections, auto-defaults and conflicts are expected dialogue outcomes and
// come back in the 200 body. Transport errors are reserved for unknown
// sessions (404), stale fields (409) and malformed requests (400).
func (h *Handler) Clarify(c *gin.Context) {
	var req ClarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if req.FieldID == "" {
		h.start(c, &req)
		return
	}
	h.answer(c, &req)
}

func (h *Handler) start(c *gin.Context, req *ClarifyRequest) {
	resp, err := h.service.Start(c.Request.Context(), req.SolverInput, req.MissingFields)
	if err != nil {
		h.respondError(c, "failed to start clarification", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) answer(c *gin.Context, req *ClarifyRequest) {
	if req.SessionID == "" {
		appErr := errors.BadRequest("session_id is required when answering a field")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.Answer(c.Request.Context(), req.SessionID, req.FieldID, req.Answer)
	if err != nil {
		h.respondError(c, "failed to apply answer", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession returns the current session state without changing it.
// GET /api/v1/clarifications/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	resp, err := h.service.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, "failed to load session", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReopenField puts a resolved, defaulted or conflicting field back under
// clarification.
// POST /api/v1/clarifications/:sessionId/reopen
func (h *Handler) ReopenField(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req ReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.Reopen(c.Request.Context(), sessionID, req.FieldID)
	if err != nil {
		h.respondError(c, "failed to reopen field", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AbandonSession discards a session without completing it.
// DELETE /api/v1/clarifications/:sessionId
func (h *Handler) AbandonSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if err := h.service.Abandon(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, "failed to abandon session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps service errors onto their HTTP representation. AppErrors
// carry their own status; anything else is a 500.
func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.logger.Error(msg, zap.Error(err))
		}
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	h.logger.Error(msg, zap.Error(err))
	appErr := errors.InternalError(msg, err)
	c.JSON(appErr.HTTPStatus, appErr)
}
