package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"fitpro/internal/metrics"
	"fitpro/internal/models"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("ai")}
}

func (s *LogSink) RecordUsage(_ context.Context, rec UsageRecord) error {
	s.logger.Infow("ai usage",
		"userId", rec.UserID,
		"inputType", rec.InputType,
		"source", rec.Source,
		"success", rec.Success,
		"model", rec.Model,
		"duration", rec.Duration,
		"timestamp", rec.Timestamp,
	)
	return nil
}

type MetricsSink struct {
	m *metrics.Metrics
}

func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

func (s *MetricsSink) RecordUsage(_ context.Context, rec UsageRecord) error {
	s.m.ObserveAI(string(rec.InputType), rec.Source, rec.Success, rec.Duration)
	return nil
}

type EventRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, metadata map[string]interface{}) error
}

// EventSink stores AI_USED user events for successful calls.
type EventSink struct {
	events EventRecorder
}

func NewEventSink(events EventRecorder) *EventSink {
	return &EventSink{events: events}
}

func (s *EventSink) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if !rec.Success || rec.UserID == uuid.Nil {
		return nil
	}
	return s.events.Record(ctx, rec.UserID, models.EventAIUsed, models.SourceAI, map[string]interface{}{
		"inputType": rec.InputType,
		"source":    rec.Source,
		"model":     rec.Model,
	})
}

// StreamSink appends usage records to a Redis stream.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) RecordUsage(ctx context.Context, rec UsageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"usage": raw},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}
