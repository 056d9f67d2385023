// internal/speech/speech.go
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"fitpro/internal/ai"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

const maxInputRunes = 4000

var errPanic = errors.New("speaker panicked")

type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

type Service struct {
	speaker Speaker
	usage   *ai.UsageLog
	logger  *logger.Logger
}

func NewService(speaker Speaker, usage *ai.UsageLog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{speaker: speaker, usage: usage, logger: log.Named("speech")}
}

// Synthesize returns base64 mp3 audio, or nil on empty input or any failure.
func (s *Service) Synthesize(ctx context.Context, userID uuid.UUID, text string) *string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}

	start := time.Now()
	audio, err := s.speak(ctx, text)
	if s.usage != nil {
		s.usage.Record(ai.UsageRecord{
			UserID:    userID,
			InputType: ai.InputText,
			Source:    "tts",
			Success:   err == nil,
			Duration:  time.Since(start),
			Timestamp: time.Now().UTC(),
		})
	}
	if err != nil {
		s.logger.Warnw("tts failed", "userId", userID, "error", err)
		return nil
	}
	out := base64.StdEncoding.EncodeToString(audio)
	return &out
}

func (s *Service) speak(ctx context.Context, text string) (audio []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("tts panicked", "panic", r)
			audio, err = nil, errPanic
		}
	}()
	return s.speaker.Speak(ctx, text)
}
