package ai

import (
	"context"
	"sync"
	"time"

	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputAudio InputType = "audio"
	InputFile  InputType = "file"
)

// UsageRecord is written once per router call after the provider settles.
type UsageRecord struct {
	UserID    uuid.UUID     `json:"userId"`
	InputType InputType     `json:"inputType"`
	Source    string        `json:"source"`
	Success   bool          `json:"success"`
	Model     string        `json:"model,omitempty"`
	Duration  time.Duration `json:"durationMs"`
	Timestamp time.Time     `json:"timestamp"`
}

type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// UsageLog fans a record out to every sink. Sinks run in the background with
// their own timeout and their failures only reach the log.
type UsageLog struct {
	sinks   map[string]UsageSink
	timeout time.Duration
	logger  *logger.Logger
	wg      sync.WaitGroup
}

func NewUsageLog(log *logger.Logger, timeout time.Duration) *UsageLog {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UsageLog{
		sinks:   map[string]UsageSink{},
		timeout: timeout,
		logger:  log.Named("usage"),
	}
}

// Add registers a sink. Not safe to call once records are flowing.
func (u *UsageLog) Add(name string, sink UsageSink) *UsageLog {
	if sink != nil {
		u.sinks[name] = sink
	}
	return u
}

func (u *UsageLog) Record(rec UsageRecord) {
	for name, sink := range u.sinks {
		u.wg.Add(1)
		go func(name string, sink UsageSink) {
			defer u.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					u.logger.Errorw("usage sink panicked", "sink", name, "panic", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
			defer cancel()
			if err := sink.RecordUsage(ctx, rec); err != nil {
				u.logger.Warnw("usage sink failed", "sink", name, "error", err)
			}
		}(name, sink)
	}
}

// Wait blocks until in-flight records are delivered.
func (u *UsageLog) Wait() {
	u.wg.Wait()
}
