package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/dispatch"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/session"
)

const controllerKey = "session_controller"

type createSessionRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type optionRequest struct {
	OptionID   string `json:"optionId" binding:"required"`
	OptionText string `json:"optionText"`
	Format     string `json:"format"`
}

type consentRequest struct {
	Consent *bool `json:"consent" binding:"required"`
}

type feedbackRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Rating    int    `json:"rating" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.hub.Len()})
}

func (s *Server) schema(c *gin.Context) {
	c.JSON(http.StatusOK, s.messageSchema)
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "userId is required", nil)
		return
	}

	ctrl, err := s.hub.Create(c.Request.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		s.log.LogError(c.Request.Context(), err, "failed to create session")
		apperrors.AbortWithInternal(c, "Failed to create session", nil)
		return
	}

	token, expires, err := s.tokens.Issue(ctrl.ID, ctrl.UserID)
	if err != nil {
		s.hub.Remove(c.Request.Context(), ctrl.ID)
		s.log.LogError(c.Request.Context(), err, "failed to issue session token")
		apperrors.AbortWithInternal(c, "Failed to create session", nil)
		return
	}

	c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: ctrl.ID,
		Token:     token,
		ExpiresAt: expires.UTC().Format(http.TimeFormat),
	})
}

// loadSession resolves :id to a local controller.
func (s *Server) loadSession(c *gin.Context) {
	id := c.Param("id")
	ctrl, ok := s.hub.Get(id)
	if !ok {
		apperrors.AbortWithNotFound(c, "Session not found", map[string]any{"session_id": id})
		return
	}
	ctrl.Touch()
	c.Set(controllerKey, ctrl)
	c.Next()
}

func controller(c *gin.Context) *session.Controller {
	return c.MustGet(controllerKey).(*session.Controller)
}

func accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) getMessages(c *gin.Context) {
	c.JSON(http.StatusOK, controller(c).Snapshot())
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		apperrors.AbortWithBadRequest(c, "text is required", nil)
		return
	}

	controller(c).Go("send_message", func(ctx context.Context, h *dispatch.Handler) error {
		return h.HandleSendMessage(ctx, req.Text)
	})
	accepted(c)
}

func (s *Server) clickOption(c *gin.Context) {
	var req optionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "optionId is required", nil)
		return
	}

	controller(c).Go("option_click", func(ctx context.Context, h *dispatch.Handler) error {
		return h.HandleOptionClick(ctx, req.OptionID, req.OptionText, req.Format)
	})
	accepted(c)
}

func (s *Server) selectCompany(c *gin.Context) {
	var req dispatch.Company
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		apperrors.AbortWithBadRequest(c, "name is required", nil)
		return
	}

	controller(c).Go("company_select", func(ctx context.Context, h *dispatch.Handler) error {
		return h.HandleCompanySelect(ctx, req)
	})
	accepted(c)
}

func (s *Server) reset(c *gin.Context) {
	controller(c).Go("reset", func(_ context.Context, h *dispatch.Handler) error {
		h.StartNewSession()
		return nil
	})
	accepted(c)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req apiclient.Profile
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "Invalid profile", map[string]any{"error": err.Error()})
		return
	}

	profile, err := controller(c).UpdateProfile(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) getProgress(c *gin.Context) {
	ctrl := controller(c)
	c.JSON(http.StatusOK, gin.H{
		"researchProgress": ctrl.Snapshot().ResearchProgress,
		"state":            ctrl.ProgressState(),
	})
}

func (s *Server) setConsent(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "consent is required", nil)
		return
	}

	prefs, err := controller(c).SetConsent(c.Request.Context(), *req.Consent)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) rateMessage(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, "messageId and rating are required", nil)
		return
	}

	prefs, err := controller(c).RateMessage(c.Request.Context(), req.MessageID, req.Rating)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) eraseData(c *gin.Context) {
	if err := controller(c).EraseData(c.Request.Context()); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) closeSession(c *gin.Context) {
	s.hub.Remove(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

// stopResearch stops a run locally, or asks the other instances when the
// session lives elsewhere.
func (s *Server) stopResearch(c *gin.Context) {
	sessionID, researchID := c.Param("id"), c.Param("researchId")

	if _, ok := s.hub.Get(sessionID); ok {
		c.JSON(http.StatusOK, gin.H{"stopped": s.hub.StopResearch(sessionID, researchID)})
		return
	}

	if s.remote == nil {
		apperrors.AbortWithNotFound(c, "Session not found", map[string]any{"session_id": sessionID})
		return
	}

	resp, err := s.remote.RequestStop(c.Request.Context(), sessionID, researchID)
	if err != nil {
		s.log.Warn("remote stop failed",
			slog.String("session_id", sessionID),
			slog.String("research_session_id", researchID),
			slog.String("error", err.Error()))
		apperrors.Respond(c, apperrors.Wrap(apperrors.KindTransient, "api.stop_research", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": resp.Found, "instanceId": resp.InstanceID})
}
