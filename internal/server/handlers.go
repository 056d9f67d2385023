// internal/server/handlers.go
package server

import (
	"net/http"
	"strconv"

	"fitpro/internal/apperr"
	"fitpro/internal/auth"
	"fitpro/internal/chat"
	"fitpro/internal/formula"
	"fitpro/internal/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(c echo.Context) error {
	var req auth.RegisterInput
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := s.deps.Auth.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := s.deps.Auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

type meResponse struct {
	User          *models.User           `json:"user"`
	LatestPayment *models.PaymentRequest `json:"latestPayment"`
}

func (s *Server) me(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	latest, err := s.deps.Subscriptions.Latest(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meResponse{User: u, LatestPayment: latest})
}

func (s *Server) updateProfile(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var req auth.ProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	updated, err := s.deps.Auth.UpdateProfile(c.Request().Context(), u.ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 200
)

type timelineResponse struct {
	Events           []models.UserEvent `json:"events"`
	AIRequests       int64              `json:"aiRequests"`
	QuizzesCompleted int64              `json:"quizzesCompleted"`
}

// myEvents is the caller's own activity timeline, newest first.
func (s *Server) myEvents(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	if s.deps.Events == nil {
		return apperr.NotFound("event log")
	}
	limit := defaultTimelineLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apperr.Validation("invalid limit", map[string]string{"limit": "must be a positive integer"})
		}
		limit = n
	}
	if limit > maxTimelineLimit {
		limit = maxTimelineLimit
	}

	ctx := c.Request().Context()
	events, err := s.deps.Events.ByUser(ctx, u.ID, limit)
	if err != nil {
		return err
	}
	resp := timelineResponse{Events: events}
	if resp.Events == nil {
		resp.Events = []models.UserEvent{}
	}
	if resp.AIRequests, err = s.deps.Events.Count(ctx, u.ID, models.EventAIUsed); err != nil {
		return err
	}
	if resp.QuizzesCompleted, err = s.deps.Events.Count(ctx, u.ID, models.EventQuizCompleted); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) generateFormula(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var quiz formula.QuizAnswers
	if err := bind(c, &quiz); err != nil {
		return err
	}
	a, err := s.deps.Formulas.Generate(c.Request().Context(), u.ID, quiz)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a.ForViewer(u))
}

func (s *Server) listFormulas(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	list, err := s.deps.Formulas.History(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	out := make([]*formula.Analysis, 0, len(list))
	for _, a := range list {
		out = append(out, a.ForViewer(u))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getFormula(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := s.deps.Formulas.Get(c.Request().Context(), u.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a.ForViewer(u))
}

func (s *Server) updateStack(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	formulaID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	stackID, err := uuidParam(c, "stackId")
	if err != nil {
		return err
	}
	var patch formula.StackPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	item, err := s.deps.Formulas.UpdateStackItem(c.Request().Context(), u.ID, formulaID, stackID, patch)
	if err != nil {
		return err
	}
	if !u.HasPremium() {
		item.Reason = ""
	}
	return c.JSON(http.StatusOK, item)
}

// chatTurn accepts both the stored message shape and the {role, content}
// shape sent by the web client.
type chatTurn struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

type chatRequest struct {
	History     []chatTurn `json:"history"`
	Message     string     `json:"message"`
	UseThinking bool       `json:"useThinking"`
	UseSearch   bool       `json:"useSearch"`
}

func (s *Server) chat(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	history := make([]chat.Message, 0, len(req.History))
	for _, t := range req.History {
		text := t.Text
		if text == "" {
			text = t.Content
		}
		history = append(history, chat.Message{Role: t.Role, Text: text})
	}
	reply, err := s.deps.Chat.Continue(c.Request().Context(), u.ID, history, req.Message, req.UseThinking, req.UseSearch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reply)
}

type analyzeImageRequest struct {
	CurrentFormulaID string `json:"currentFormulaId"`
	Image            string `json:"image"`
	MimeType         string `json:"mimeType"`
}

func (s *Server) analyzeImage(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var req analyzeImageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	formulaID, err := uuid.Parse(req.CurrentFormulaID)
	if err != nil {
		return apperr.Validation("invalid formula id", map[string]string{"currentFormulaId": "must be a UUID"})
	}
	res, err := s.deps.Vision.AnalyzeAndReconcile(c.Request().Context(), u.ID, formulaID, req.Image, req.MimeType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type ttsRequest struct {
	Text string `json:"text"`
}

type ttsResponse struct {
	AudioBase64 *string `json:"audioBase64"`
}

func (s *Server) tts(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var req ttsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ttsResponse{AudioBase64: s.deps.Speech.Synthesize(c.Request().Context(), u.ID, req.Text)})
}

func (s *Server) listUsers(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	users, err := s.deps.Auth.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

type statusRequest struct {
	Status models.UserStatus `json:"status"`
}

func (s *Server) setUserStatus(c echo.Context) error {
	admin, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.deps.Auth.SetStatus(c.Request().Context(), admin.ID, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) recentEvents(c echo.Context) error {
	if s.deps.Events == nil {
		return apperr.NotFound("event log")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := s.deps.Events.Recent(c.Request().Context(), models.EventType(c.QueryParam("type")), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}
