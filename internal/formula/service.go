// internal/formula/service.go
package formula

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"fitpro/internal/ai"
	"fitpro/internal/apperr"
	"fitpro/internal/db"
	"fitpro/internal/gpt"
	"fitpro/internal/metrics"
	"fitpro/internal/models"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const defaultConfidence = 0.85

type Router interface {
	Text(ctx context.Context, messages []gpt.Message, opts ai.Options) ai.Envelope
}

type Store interface {
	CreateAggregate(ctx context.Context, f *models.Formula, stacks []models.SupplementStack, alerts []models.BioAlert) error
	Get(ctx context.Context, userID, formulaID uuid.UUID) (*models.Formula, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Formula, error)
	UpdateStack(ctx context.Context, userID, formulaID, stackID uuid.UUID, patch db.StackPatch) (*models.SupplementStack, error)
}

type EventRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, metadata map[string]interface{}) error
}

// Analysis is the formula aggregate returned to clients.
type Analysis struct {
	Formula *models.Formula          `json:"formula"`
	Stacks  []models.SupplementStack `json:"stacks"`
	Alerts  []models.BioAlert        `json:"alerts"`
}

func NewAnalysis(f *models.Formula) *Analysis {
	a := &Analysis{Formula: f, Stacks: f.Stacks, Alerts: f.Alerts}
	if a.Stacks == nil {
		a.Stacks = []models.SupplementStack{}
	}
	if a.Alerts == nil {
		a.Alerts = []models.BioAlert{}
	}
	return a
}

// Redact returns a copy with premium-only fields cleared.
func (a *Analysis) Redact() *Analysis {
	out := *a
	out.Stacks = make([]models.SupplementStack, len(a.Stacks))
	copy(out.Stacks, a.Stacks)
	for i := range out.Stacks {
		out.Stacks[i].Reason = ""
	}
	return &out
}

// ForViewer applies premium gating for the given caller.
func (a *Analysis) ForViewer(u *models.User) *Analysis {
	if u != nil && u.HasPremium() {
		return a
	}
	return a.Redact()
}

type Service struct {
	router  Router
	store   Store
	events  EventRecorder
	metrics *metrics.Metrics
	logger  *logger.Logger
	version string
	now     func() time.Time
	codeNum func() int
}

func NewService(router Router, store Store, events EventRecorder, m *metrics.Metrics, version string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		router:  router,
		store:   store,
		events:  events,
		metrics: m,
		logger:  log.Named("formula"),
		version: version,
		now:     time.Now,
		codeNum: func() int { return 1000 + rand.Intn(9000) },
	}
}

// Code builds the display identifier MFP-####-BLD|CUT.
func (s *Service) Code(goal string) string {
	suffix := "CUT"
	if goal == "build-muscle" {
		suffix = "BLD"
	}
	return fmt.Sprintf("MFP-%d-%s", s.codeNum(), suffix)
}

// Generate validates the quiz, asks the model for a formula and persists it.
// Nothing is written when the provider fails or returns unusable output.
func (s *Service) Generate(ctx context.Context, userID uuid.UUID, quiz QuizAnswers) (*Analysis, error) {
	if err := quiz.Validate(); err != nil {
		return nil, err
	}

	env := s.router.Text(ctx, []gpt.Message{{Role: gpt.RoleUser, Text: userPrompt(quiz)}}, ai.Options{
		UserID:   userID,
		Source:   "formula",
		System:   systemPrompt,
		JSONMode: true,
	})
	if !env.Success {
		return nil, apperr.ProviderTransport(errors.New(env.Error))
	}

	out, err := parseOutput(env.Data.Text)
	if err != nil {
		s.logger.Warnw("malformed formula output", "userId", userID, "error", err)
		return nil, apperr.MalformedAIOutput(err)
	}

	f, stacks, alerts := s.build(userID, quiz, out)
	if err := s.store.CreateAggregate(ctx, f, stacks, alerts); err != nil {
		return nil, apperr.Internal("failed to save formula", err)
	}

	if s.metrics != nil {
		s.metrics.FormulasGenerated.Inc()
	}
	if s.events != nil {
		if err := s.events.Record(ctx, userID, models.EventQuizCompleted, models.SourceDashboard, map[string]interface{}{
			"formulaId": f.ID,
			"code":      f.Code,
			"goal":      quiz.Goal,
		}); err != nil {
			s.logger.Warnw("failed to record quiz event", "userId", userID, "error", err)
		}
	}
	s.logger.Infow("formula generated", "userId", userID, "formulaId", f.ID, "code", f.Code, "stacks", len(stacks))
	return NewAnalysis(f), nil
}

func (s *Service) build(userID uuid.UUID, quiz QuizAnswers, out *aiOutput) (*models.Formula, []models.SupplementStack, []models.BioAlert) {
	confidence := defaultConfidence
	if out.ConfidenceScore != nil {
		confidence = *out.ConfidenceScore
	}
	f := &models.Formula{
		ID:        uuid.New(),
		UserID:    userID,
		Code:      s.Code(quiz.Goal),
		AIVersion: s.version,
		Summary: datatypes.NewJSONType(models.FormulaSummary{
			ProteinNeed:    out.Summary.ProteinNeed,
			CreatineNeed:   out.Summary.CreatineNeed,
			RecoveryStatus: out.Summary.RecoveryStatus,
			EnergyIndex:    int(math.Round(out.Summary.EnergyIndex)),
			StressLevel:    out.Summary.StressLevel,
			Priority:       out.Summary.Priority,
		}),
		ConfidenceScore: confidence,
		CreatedAt:       s.now().UTC(),
	}

	stacks := make([]models.SupplementStack, 0, len(out.Stacks))
	for _, st := range out.Stacks {
		priority := int(math.Round(st.Priority))
		if priority < 1 {
			priority = 1
		}
		stacks = append(stacks, models.SupplementStack{
			ID:       uuid.New(),
			Name:     st.Name,
			Dosage:   st.Dosage,
			Timing:   st.Timing,
			Reason:   st.Reason,
			Priority: priority,
		})
	}
	alerts := make([]models.BioAlert, 0, len(out.Alerts))
	for _, al := range out.Alerts {
		alerts = append(alerts, models.BioAlert{
			ID:       uuid.New(),
			Type:     al.Type,
			Message:  al.Message,
			Severity: al.Severity,
		})
	}
	return f, stacks, alerts
}

// History returns the user's formulas newest-first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]*Analysis, error) {
	formulas, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load history", err)
	}
	out := make([]*Analysis, 0, len(formulas))
	for i := range formulas {
		out = append(out, NewAnalysis(&formulas[i]))
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, userID, formulaID uuid.UUID) (*Analysis, error) {
	f, err := s.store.Get(ctx, userID, formulaID)
	if err != nil {
		return nil, err
	}
	return NewAnalysis(f), nil
}

type StackPatch struct {
	Completed *bool `json:"isCompleted"`
	Rating    *int  `json:"rating"`
}

// UpdateStackItem lets the owner toggle completion or rate a stack item.
func (s *Service) UpdateStackItem(ctx context.Context, userID, formulaID, stackID uuid.UUID, patch StackPatch) (*models.SupplementStack, error) {
	if patch.Completed == nil && patch.Rating == nil {
		return nil, apperr.Validation("nothing to update", map[string]string{"body": "isCompleted or rating required"})
	}
	if patch.Rating != nil && (*patch.Rating < 0 || *patch.Rating > 5) {
		return nil, apperr.Validation("invalid rating", map[string]string{"rating": "must be between 0 and 5"})
	}
	item, err := s.store.UpdateStack(ctx, userID, formulaID, stackID, db.StackPatch{Completed: patch.Completed, Rating: patch.Rating})
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		if err := s.events.Record(ctx, userID, models.EventStackUpdated, models.SourceDashboard, map[string]interface{}{
			"formulaId": formulaID,
			"stackId":   stackID,
		}); err != nil {
			s.logger.Warnw("failed to record stack event", "userId", userID, "error", err)
		}
	}
	return item, nil
}
