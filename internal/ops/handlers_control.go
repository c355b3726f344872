package ops

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mikeisflux/streamlick-sub000/internal/domain"
	apperrors "github.com/mikeisflux/streamlick-sub000/internal/errors"
)

func (s *Server) handleStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.engine.Snapshot()); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

type layoutRequest struct {
	Kind    string `json:"kind"`
	FocusID string `json:"focus_id"`
	Crop    bool   `json:"crop"`
}

func (s *Server) handleSetLayout(c echo.Context) error {
	var req layoutRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	kind := domain.LayoutKind(req.Kind)
	switch kind {
	case domain.LayoutGrid, domain.LayoutSpotlight, domain.LayoutSidebar,
		domain.LayoutPiP, domain.LayoutScreenShare:
	default:
		return apperrors.ValidationError("unknown layout kind").WithField("kind", req.Kind)
	}

	s.engine.SetLayout(domain.LayoutSpec{Kind: kind, FocusID: req.FocusID, Crop: req.Crop})
	return okResponse(c)
}

type overlayRequest struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	URL    string `json:"url"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (s *Server) handleAddOverlay(c echo.Context) error {
	var req overlayRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.URL == "" {
		return apperrors.ValidationError("overlay url is required")
	}
	if req.Width <= 0 || req.Height <= 0 {
		return apperrors.ValidationError("overlay placement needs a positive width and height")
	}

	kind := domain.OverlayKind(req.Kind)
	switch kind {
	case domain.OverlayLogo, domain.OverlayBanner, domain.OverlayBackground:
	case "":
		kind = domain.OverlayLogo
	default:
		return apperrors.ValidationError("unknown overlay kind").WithField("kind", req.Kind)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	asset := domain.OverlayAsset{
		ID:        id,
		Kind:      kind,
		SourceURL: req.URL,
		Placement: image.Rect(req.X, req.Y, req.X+req.Width, req.Y+req.Height),
	}
	if err := s.engine.AddOverlay(c.Request().Context(), asset); err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, map[string]string{"id": id}); err != nil {
		return fmt.Errorf("failed to write overlay response: %w", err)
	}
	return nil
}

func (s *Server) handleRemoveOverlay(c echo.Context) error {
	s.engine.RemoveOverlay(c.Param("id"))
	return okResponse(c)
}

type lowerThirdRequest struct {
	Text    string `json:"text"`
	Subtext string `json:"subtext"`
	Style   string `json:"style"`
}

func (s *Server) handleShowLowerThird(c echo.Context) error {
	var req lowerThirdRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.Text == "" {
		return apperrors.ValidationError("lower third text is required")
	}

	style := domain.LowerThirdStyle(req.Style)
	switch style {
	case domain.LowerThirdBar, domain.LowerThirdMinimal, domain.LowerThirdBoxed, domain.LowerThirdAccent:
	case "":
		style = domain.LowerThirdBar
	default:
		return apperrors.ValidationError("unknown lower third style").WithField("style", req.Style)
	}

	s.engine.ShowLowerThird(req.Text, req.Subtext, style)
	return okResponse(c)
}

func (s *Server) handleHideLowerThird(c echo.Context) error {
	s.engine.HideLowerThird()
	return okResponse(c)
}

type chatRequest struct {
	Platform string `json:"platform"`
	Author   string `json:"author"`
	Text     string `json:"text"`
}

func (s *Server) handleChatMessage(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.Text == "" {
		return apperrors.ValidationError("chat text is required")
	}

	s.engine.AddChatMessage(domain.ChatMessage{
		Platform: req.Platform,
		Author:   req.Author,
		Text:     req.Text,
		At:       time.Now(),
	})
	return okResponse(c)
}

type chatVisibilityRequest struct {
	Visible bool `json:"visible"`
}

func (s *Server) handleChatVisibility(c echo.Context) error {
	var req chatVisibilityRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	s.engine.SetShowChat(req.Visible)
	return okResponse(c)
}

type captionRequest struct {
	Text    string `json:"text"`
	Interim bool   `json:"interim"`
}

func (s *Server) handleSetCaption(c echo.Context) error {
	var req captionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}

	s.engine.SetCaption(req.Text, req.Interim)
	return okResponse(c)
}

type volumeRequest struct {
	Master float64 `json:"master"`
}

func (s *Server) handleSetVolume(c echo.Context) error {
	var req volumeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.Master < 0 || req.Master > 1 {
		return apperrors.ValidationError("master volume must be within [0, 1]").
			WithField("master", req.Master)
	}

	s.engine.SetMasterVolume(req.Master)
	return okResponse(c)
}

type gainRequest struct {
	Gain float64 `json:"gain"`
}

func (s *Server) handleSetGain(c echo.Context) error {
	var req gainRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.Gain < 0 {
		return apperrors.ValidationError("gain must not be negative").WithField("gain", req.Gain)
	}

	s.engine.SetSourceGain(c.Param("id"), req.Gain)
	return okResponse(c)
}

type countdownRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) handleStartCountdown(c echo.Context) error {
	var req countdownRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.Seconds <= 0 || req.Seconds > 600 {
		return apperrors.ValidationError("countdown seconds must be within 1..600").
			WithField("seconds", req.Seconds)
	}

	if err := s.engine.StartCountdown(req.Seconds); err != nil {
		return err
	}
	return okResponse(c)
}

type introClipRequest struct {
	URL        string `json:"url"`
	DurationMS int64  `json:"duration_ms"`
}

// handlePlayIntroClip starts the clip and returns immediately; the play
// call itself blocks for the whole clip, which is no way to treat an HTTP
// client. Failures after the conflict pre-check surface on the event bus.
func (s *Server) handlePlayIntroClip(c echo.Context) error {
	var req introClipRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed request body")
	}
	if req.URL == "" {
		return apperrors.ValidationError("clip url is required")
	}
	if req.DurationMS < 0 {
		return apperrors.ValidationError("duration_ms must not be negative")
	}

	if s.engine.Snapshot().Render.ClipActive {
		return apperrors.ConflictError("a fullscreen clip is already playing")
	}

	override := time.Duration(req.DurationMS) * time.Millisecond
	go func() {
		if err := s.engine.PlayIntroClip(context.Background(), req.URL, override); err != nil {
			s.log.Warn("Intro clip failed", "url", req.URL, "error", err)
		}
	}()

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "started"}); err != nil {
		return fmt.Errorf("failed to write clip response: %w", err)
	}
	return nil
}

func (s *Server) handleForceFailover(c echo.Context) error {
	id := c.Param("id")
	if err := s.engine.ForceFailover(id); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok", "primary": id}); err != nil {
		return fmt.Errorf("failed to write failover response: %w", err)
	}
	return nil
}

func okResponse(c echo.Context) error {
	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
