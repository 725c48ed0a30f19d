package game

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/mcdev12/promptclash/go/internal/generation"
	"github.com/mcdev12/promptclash/go/internal/identity"
	"github.com/mcdev12/promptclash/go/internal/models"
)

const qrSize = 320

// GameApp defines what the HTTP layer needs from the game.
type GameApp interface {
	State(ctx context.Context) (*models.GameView, error)
	CheckTimers(ctx context.Context) (*models.GameView, bool, error)
	StartRound(ctx context.Context, req StartRoundRequest) (*models.GameView, error)
	StopTimer(ctx context.Context) (*models.GameView, error)
	TriggerGeneration(ctx context.Context) (*models.GameView, error)
	StartVoting(ctx context.Context) (*models.GameView, error)
	CloseSession(ctx context.Context) (*models.GameView, error)
	RemoveParticipant(ctx context.Context, token string) (*models.GameView, error)
	Join(ctx context.Context, req JoinRequest) (*JoinResponse, error)
	UpdatePrompt(ctx context.Context, ref string, prompt models.PromptText) error
	CastVote(ctx context.Context, token string) error
	Disconnect(ctx context.Context, connectionID string) error
	Logs(ctx context.Context) ([]models.LogEntry, error)
	History(ctx context.Context) ([]models.RoundRecord, error)
}

// Generator runs a one-off generation outside the round flow.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (*generation.GenerateResult, error)
	Models() []string
}

// ServiceConfig configures the HTTP surface.
type ServiceConfig struct {
	// PublicURL is the base of join links in QR codes. Empty means the
	// request's own host.
	PublicURL string
	AdminUser string
	AdminPass string
}

// Service exposes the game over HTTP.
type Service struct {
	app       GameApp
	generator Generator
	config    ServiceConfig
}

// NewService creates the HTTP service. generator may be nil, which
// disables test generation.
func NewService(app GameApp, generator Generator, config ServiceConfig) *Service {
	return &Service{app: app, generator: generator, config: config}
}

// RegisterRoutes mounts the command surface.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", s.Health)
	r.GET("/api/check-timer", s.CheckTimer)

	participant := r.Group("/api/participant")
	participant.POST("/join", s.Join)
	participant.POST("/update-prompt", s.UpdatePrompt)
	participant.POST("/disconnect", s.Disconnect)
	r.POST("/api/vote/cast", s.CastVote)

	var admin *gin.RouterGroup
	if s.config.AdminUser != "" && s.config.AdminPass != "" {
		admin = r.Group("/api/admin", gin.BasicAuth(gin.Accounts{s.config.AdminUser: s.config.AdminPass}))
	} else {
		log.Warn().Msg("admin routes are not protected; set admin credentials to enable basic auth")
		admin = r.Group("/api/admin")
	}
	admin.POST("/start-round", s.StartRound)
	admin.POST("/stop-timer", s.StopTimer)
	admin.POST("/trigger-generation", s.TriggerGeneration)
	admin.POST("/start-voting", s.StartVoting)
	admin.POST("/close-session", s.CloseSession)
	admin.GET("/logs", s.Logs)
	admin.GET("/history", s.History)
	admin.DELETE("/participants/:token", s.RemoveParticipant)
	admin.GET("/tokens/:token/qr", s.TokenQR)
	admin.POST("/test-generation", s.TestGeneration)
}

func (s *Service) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Service) CheckTimer(c *gin.Context) {
	view, fired, err := s.app.CheckTimers(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"state": view, "transitioned": fired})
}

func (s *Service) StartRound(c *gin.Context) {
	var req StartRoundRequest
	if !s.bind(c, &req) {
		return
	}
	s.respondState(c, http.StatusOK)(s.app.StartRound(c.Request.Context(), req))
}

func (s *Service) StopTimer(c *gin.Context) {
	s.respondState(c, http.StatusOK)(s.app.StopTimer(c.Request.Context()))
}

func (s *Service) TriggerGeneration(c *gin.Context) {
	s.respondState(c, http.StatusAccepted)(s.app.TriggerGeneration(c.Request.Context()))
}

func (s *Service) StartVoting(c *gin.Context) {
	s.respondState(c, http.StatusOK)(s.app.StartVoting(c.Request.Context()))
}

func (s *Service) CloseSession(c *gin.Context) {
	s.respondState(c, http.StatusOK)(s.app.CloseSession(c.Request.Context()))
}

func (s *Service) RemoveParticipant(c *gin.Context) {
	s.respondState(c, http.StatusOK)(s.app.RemoveParticipant(c.Request.Context(), c.Param("token")))
}

func (s *Service) Logs(c *gin.Context) {
	logs, err := s.app.Logs(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Service) History(c *gin.Context) {
	rounds, err := s.app.History(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

// TokenQR renders the join link for one of the current round's tokens.
func (s *Service) TokenQR(c *gin.Context) {
	token := identity.NormalizeToken(c.Param("token"))
	view, err := s.app.State(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !slices.Contains(view.ValidTokens, token) {
		s.fail(c, models.ErrInvalidToken)
		return
	}

	png, err := qrcode.Encode(s.joinURL(c.Request, token), qrcode.Medium, qrSize)
	if err != nil {
		s.fail(c, fmt.Errorf("qr generation failed: %w", err))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Service) joinURL(r *http.Request, token string) string {
	base := strings.TrimRight(s.config.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join?token=" + url.QueryEscape(token)
}

type testGenerationRequest struct {
	Prompt   string `json:"prompt"`
	Model    string `json:"model"`
	TestBoth bool   `json:"testBoth"`
}

type testGenerationResult struct {
	Success  bool   `json:"success"`
	Model    string `json:"model"`
	Image    string `json:"image,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// TestGeneration runs one prompt synchronously, or every catalogue model in
// parallel when testBoth is set.
func (s *Service) TestGeneration(c *gin.Context) {
	if s.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "GENERATION_UNAVAILABLE", "message": "image generation is not configured"}})
		return
	}
	var req testGenerationRequest
	if !s.bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.fail(c, &models.Error{Code: models.CodeInvalidPrompt, Message: "prompt is required"})
		return
	}
	ctx := c.Request.Context()

	if !req.TestBoth {
		res, err := s.generator.Generate(ctx, req.Model, req.Prompt)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "testBoth": false, "result": toTestResult(res, nil, req.Model)})
		return
	}

	names := s.generator.Models()
	results := make([]testGenerationResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.generator.Generate(ctx, name, req.Prompt)
			results[i] = toTestResult(res, err, name)
		}()
	}
	wg.Wait()
	c.JSON(http.StatusOK, gin.H{"success": true, "testBoth": true, "results": results})
}

func toTestResult(res *generation.GenerateResult, err error, model string) testGenerationResult {
	if err != nil {
		return testGenerationResult{Model: model, Error: err.Error(), Duration: "0.00"}
	}
	return testGenerationResult{
		Success:  true,
		Model:    res.Model,
		Image:    res.ImageURL,
		Duration: fmt.Sprintf("%.2f", res.Duration.Seconds()),
	}
}

func (s *Service) Join(c *gin.Context) {
	var req JoinRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.app.Join(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type updatePromptRequest struct {
	Token        string            `json:"token"`
	ConnectionID string            `json:"connectionId"`
	Prompt       models.PromptText `json:"prompt"`
}

func (s *Service) UpdatePrompt(c *gin.Context) {
	var req updatePromptRequest
	if !s.bind(c, &req) {
		return
	}
	ref := req.Token
	if ref == "" {
		ref = req.ConnectionID
	}
	if ref == "" {
		s.fail(c, models.ErrParticipantNotFound)
		return
	}
	if err := s.app.UpdatePrompt(c.Request.Context(), ref, req.Prompt); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Service) Disconnect(c *gin.Context) {
	var req struct {
		ConnectionID string `json:"connectionId"`
	}
	if !s.bind(c, &req) {
		return
	}
	if err := s.app.Disconnect(c.Request.Context(), req.ConnectionID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Service) CastVote(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if !s.bind(c, &req) {
		return
	}
	if err := s.app.CastVote(c.Request.Context(), req.ParticipantID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Service) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var e *models.Error
		if errors.As(err, &e) {
			s.fail(c, e)
		} else {
			s.fail(c, &models.Error{Code: models.CodeInvalidPayload, Message: "malformed request body"})
		}
		return false
	}
	return true
}

func (s *Service) respondState(c *gin.Context, status int) func(*models.GameView, error) {
	return func(view *models.GameView, err error) {
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(status, view)
	}
}

// fail maps client errors to 4xx and hides everything else behind a 500.
func (s *Service) fail(c *gin.Context, err error) {
	var e *models.Error
	switch {
	case errors.As(err, &e):
		c.JSON(statusFor(e.Code), gin.H{"error": e})
	case errors.Is(err, generation.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": models.Error{Code: models.CodeInvalidPayload, Message: err.Error()}})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": "internal error"}})
	}
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeWrongPhase, models.CodeGenerationInProgress, models.CodeTokenAlreadyInUse:
		return http.StatusConflict
	case models.CodeParticipantNotFound:
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
