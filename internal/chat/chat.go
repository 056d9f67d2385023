// internal/chat/chat.go
package chat

import (
	"context"
	"strings"
	"time"

	"fitpro/internal/ai"
	"fitpro/internal/apperr"
	"fitpro/internal/gpt"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

const (
	DegradedText      = "Sorry, the connection to the assistant was lost. Please try again."
	defaultMaxHistory = 20

	systemPrompt = "You are SASKA, the AI coach of Mokammel Fit Pro. You know biology, supplements and fitness. " +
		"Answer in a professional yet encouraging tone."
)

type Router interface {
	Text(ctx context.Context, messages []gpt.Message, opts ai.Options) ai.Envelope
}

// Message is one turn of client-held history. Role "assistant" is treated as "model".
type Message struct {
	Role            string               `json:"role"`
	Text            string               `json:"text"`
	GroundingChunks []gpt.GroundingChunk `json:"groundingChunks,omitempty"`
	Timestamp       int64                `json:"timestamp,omitempty"`
	Status          string               `json:"status,omitempty"`
}

type Reply struct {
	Text            string               `json:"text"`
	GroundingChunks []gpt.GroundingChunk `json:"groundingChunks"`
	Timestamp       int64                `json:"timestamp"`
	Degraded        bool                 `json:"degraded,omitempty"`
}

type Service struct {
	router     Router
	maxHistory int
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(router Router, maxHistory int, log *logger.Logger) *Service {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{router: router, maxHistory: maxHistory, logger: log.Named("chat"), now: time.Now}
}

// Continue answers message in the context of history. Provider failures
// degrade to a fixed reply rather than an error; only an empty message is
// rejected. When both flags are set extended reasoning wins and search is off.
func (s *Service) Continue(ctx context.Context, userID uuid.UUID, history []Message, message string, useExtendedReasoning, useSearch bool) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, apperr.Validation("message is required", map[string]string{"message": "required"})
	}

	if useExtendedReasoning {
		useSearch = false
	}

	turns := s.window(history)
	msgs := make([]gpt.Message, 0, len(turns)+1)
	for _, h := range turns {
		role := gpt.RoleUser
		if h.Role == "model" || h.Role == "assistant" {
			role = gpt.RoleModel
		}
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		msgs = append(msgs, gpt.Message{Role: role, Text: h.Text})
	}
	msgs = append(msgs, gpt.Message{Role: gpt.RoleUser, Text: message})

	env := s.router.Text(ctx, msgs, ai.Options{
		UserID:    userID,
		Source:    "chat",
		System:    systemPrompt,
		Search:    useSearch,
		Reasoning: useExtendedReasoning,
	})
	if !env.Success || env.Data == nil {
		s.logger.Warnw("chat degraded", "userId", userID, "error", env.Error)
		return Reply{
			Text:            DegradedText,
			GroundingChunks: []gpt.GroundingChunk{},
			Timestamp:       s.now().UnixMilli(),
			Degraded:        true,
		}, nil
	}

	chunks := env.Data.GroundingChunks
	if chunks == nil {
		chunks = []gpt.GroundingChunk{}
	}
	return Reply{Text: env.Data.Text, GroundingChunks: chunks, Timestamp: s.now().UnixMilli()}, nil
}

// window returns a copy of the last maxHistory turns.
func (s *Service) window(history []Message) []Message {
	start := 0
	if len(history) > s.maxHistory {
		start = len(history) - s.maxHistory
	}
	out := make([]Message, len(history)-start)
	copy(out, history[start:])
	return out
}
