// internal/vision/vision.go
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fitpro/internal/ai"
	"fitpro/internal/apperr"
	"fitpro/internal/formula"
	"fitpro/internal/models"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultMaxImageBytes = 8 << 20

	prompt = "Identify this supplement or food. Return JSON: " +
		`{"type": "supplement"|"food"|"unknown", "name": string, "doseEstimate": string, ` +
		`"calories": number, "protein": number, "detectedIngredients": string[], "confidence": number (0-1)}`
)

type Router interface {
	Image(ctx context.Context, mediaRef, prompt string, opts ai.Options) ai.Envelope
}

type FormulaLoader interface {
	Get(ctx context.Context, userID, formulaID uuid.UUID) (*models.Formula, error)
}

// Labeler returns short label hints for an image.
type Labeler interface {
	Labels(ctx context.Context, image []byte) ([]string, error)
}

type Analysis struct {
	Type                string   `json:"type"`
	Name                string   `json:"name"`
	DoseEstimate        string   `json:"doseEstimate,omitempty"`
	Calories            *float64 `json:"calories,omitempty"`
	Protein             *float64 `json:"protein,omitempty"`
	DetectedIngredients []string `json:"detectedIngredients"`
	Confidence          float64  `json:"confidence"`
	Labels              []string `json:"labels,omitempty"`
}

type Result struct {
	*formula.Analysis
	VisionAnalysis *Analysis `json:"visionAnalysis"`
}

type Service struct {
	router   Router
	formulas FormulaLoader
	labeler  Labeler
	maxBytes int
	logger   *logger.Logger
}

func NewService(router Router, formulas FormulaLoader, labeler Labeler, maxBytes int, log *logger.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{router: router, formulas: formulas, labeler: labeler, maxBytes: maxBytes, logger: log.Named("vision")}
}

// AnalyzeAndReconcile classifies an image against the caller's formula. The
// formula's stacks and alerts are returned unchanged.
func (s *Service) AnalyzeAndReconcile(ctx context.Context, userID, formulaID uuid.UUID, imageBase64, mimeType string) (*Result, error) {
	media, err := s.validate(imageBase64, mimeType)
	if err != nil {
		return nil, err
	}

	f, err := s.formulas.Get(ctx, userID, formulaID)
	if err != nil {
		return nil, err
	}

	var labels []string
	if s.labeler != nil {
		labels, err = s.labeler.Labels(ctx, media.Data)
		if err != nil {
			s.logger.Warnw("label detection failed", "error", err)
			labels = nil
		}
	}

	p := prompt
	if len(labels) > 0 {
		p += "\nDetected labels: " + strings.Join(labels, ", ")
	}

	env := s.router.Image(ctx, media.DataURL(), p, ai.Options{
		UserID:   userID,
		Source:   "vision",
		JSONMode: true,
	})
	if !env.Success {
		return nil, apperr.ProviderTransport(errors.New(env.Error))
	}

	analysis, err := parseAnalysis(env.Data.Text)
	if err != nil {
		s.logger.Warnw("malformed vision output", "userId", userID, "error", err)
		return nil, apperr.MalformedAIOutput(err)
	}
	analysis.Labels = labels

	return &Result{Analysis: formula.NewAnalysis(f), VisionAnalysis: analysis}, nil
}

func (s *Service) validate(imageBase64, mimeType string) (ai.Media, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	details := map[string]string{}
	if !strings.HasPrefix(mimeType, "image/") {
		details["mimeType"] = "must be an image type"
	}
	media, err := ai.ParseMediaRef(imageBase64, mimeType)
	if err != nil {
		details["imageBase64"] = err.Error()
	} else {
		if !strings.HasPrefix(media.MIME, "image/") {
			details["imageBase64"] = "payload is not an image"
		}
		if len(media.Data) > s.maxBytes {
			details["imageBase64"] = fmt.Sprintf("image exceeds %d bytes", s.maxBytes)
		}
	}
	if len(details) > 0 {
		return ai.Media{}, apperr.Validation("invalid image", details)
	}
	return media, nil
}
