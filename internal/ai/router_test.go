package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"fitpro/internal/gpt"
	"fitpro/internal/models"

	"github.com/google/uuid"
)

type fakeGateway struct {
	mu         sync.Mutex
	requests   []gpt.Request
	transcribe string
	err        error
	panic      bool
}

func (f *fakeGateway) Complete(_ context.Context, req gpt.Request) (*gpt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.panic {
		panic("provider exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gpt.Result{Text: "ok", Model: "fake"}, nil
}

func (f *fakeGateway) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.transcribe, nil
}

type countingSink struct {
	mu      sync.Mutex
	records []UsageRecord
}

func (s *countingSink) RecordUsage(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type failingSink struct{}

func (failingSink) RecordUsage(context.Context, UsageRecord) error { return errors.New("sink down") }

func newRouter(gw Gateway) (*Router, *countingSink, *UsageLog) {
	sink := &countingSink{}
	usage := NewUsageLog(nil, 0).Add("count", sink).Add("broken", failingSink{})
	return NewRouter(gw, usage, nil), sink, usage
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestRouterRecordsExactlyOncePerCall(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name    string
		gw      *fakeGateway
		call    func(r *Router) Envelope
		success bool
		input   InputType
	}{
		{
			name:    "text success",
			gw:      &fakeGateway{},
			call:    func(r *Router) Envelope { return r.Text(context.Background(), []gpt.Message{{Role: gpt.RoleUser, Text: "hi"}}, Options{UserID: user, Source: "chat"}) },
			success: true,
			input:   InputText,
		},
		{
			name:    "text provider failure",
			gw:      &fakeGateway{err: errors.New("connection reset")},
			call:    func(r *Router) Envelope { return r.Text(context.Background(), []gpt.Message{{Role: gpt.RoleUser, Text: "hi"}}, Options{UserID: user}) },
			success: false,
			input:   InputText,
		},
		{
			name:    "provider panic",
			gw:      &fakeGateway{panic: true},
			call:    func(r *Router) Envelope { return r.Text(context.Background(), []gpt.Message{{Role: gpt.RoleUser, Text: "hi"}}, Options{UserID: user}) },
			success: false,
			input:   InputText,
		},
		{
			name:    "image bad payload",
			gw:      &fakeGateway{},
			call:    func(r *Router) Envelope { return r.Image(context.Background(), "!!!", "what", Options{UserID: user}) },
			success: false,
			input:   InputImage,
		},
		{
			name:    "binary file",
			gw:      &fakeGateway{},
			call:    func(r *Router) Envelope { return r.File(context.Background(), "data:application/pdf;base64,"+b64("%PDF"), "a.pdf", "sum", Options{UserID: user}) },
			success: false,
			input:   InputFile,
		},
		{
			name:    "audio success",
			gw:      &fakeGateway{transcribe: "how much creatine"},
			call:    func(r *Router) Envelope { return r.Audio(context.Background(), b64("RIFF"), "wav", "", Options{UserID: user}) },
			success: true,
			input:   InputAudio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sink, usage := newRouter(tt.gw)
			env := tt.call(r)
			usage.Wait()

			if env.Success != tt.success {
				t.Fatalf("success = %v, want %v (error %q)", env.Success, tt.success, env.Error)
			}
			if !env.Success && env.Error == "" {
				t.Fatal("failed envelope must carry an error")
			}
			if len(sink.records) != 1 {
				t.Fatalf("expected 1 usage record, got %d", len(sink.records))
			}
			rec := sink.records[0]
			if rec.Success != tt.success || rec.InputType != tt.input || rec.UserID != user {
				t.Fatalf("unexpected record %+v", rec)
			}
		})
	}
}

func TestRouterImageDefaultsToJPEG(t *testing.T) {
	gw := &fakeGateway{}
	r, _, usage := newRouter(gw)
	env := r.Image(context.Background(), b64("\xff\xd8\xff"), "identify", Options{JSONMode: true})
	usage.Wait()

	if !env.Success {
		t.Fatalf("image failed: %s", env.Error)
	}
	req := gw.requests[0]
	if !req.Vision || !req.JSONMode {
		t.Fatalf("vision/json flags lost: %+v", req)
	}
	if !strings.HasPrefix(req.Messages[0].ImageURL, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected image url %q", req.Messages[0].ImageURL)
	}
}

func TestRouterRejectsNonImageMime(t *testing.T) {
	r, _, usage := newRouter(&fakeGateway{})
	env := r.Image(context.Background(), "data:text/plain;base64,"+b64("hi"), "identify", Options{})
	usage.Wait()
	if env.Success {
		t.Fatal("text payload must not be sent as an image")
	}
}

func TestRouterFileInlinesText(t *testing.T) {
	gw := &fakeGateway{}
	r, _, usage := newRouter(gw)
	env := r.File(context.Background(), b64("weight,80\nsleep,7"), "log.csv", "summarize", Options{})
	usage.Wait()

	if !env.Success {
		t.Fatalf("file failed: %s", env.Error)
	}
	text := gw.requests[0].Messages[0].Text
	if !strings.Contains(text, "weight,80") || !strings.Contains(text, "summarize") {
		t.Fatalf("content not inlined: %q", text)
	}
}

func TestRouterAudioRejectsFormat(t *testing.T) {
	r, _, usage := newRouter(&fakeGateway{})
	env := r.Audio(context.Background(), b64("x"), "ogg", "", Options{})
	usage.Wait()
	if env.Success || !strings.Contains(env.Error, "unsupported") {
		t.Fatalf("expected unsupported media, got %+v", env)
	}
}

func TestRouterSuccessHasNonNilChunks(t *testing.T) {
	r, _, usage := newRouter(&fakeGateway{})
	env := r.Text(context.Background(), []gpt.Message{{Role: gpt.RoleUser, Text: "x"}}, Options{})
	usage.Wait()
	if env.Data == nil || env.Data.GroundingChunks == nil {
		t.Fatal("grounding chunks must be non-nil")
	}
}

type recordedEvent struct {
	typ models.EventType
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Record(_ context.Context, _ uuid.UUID, typ models.EventType, _ models.EventSource, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{typ: typ})
	return nil
}

func TestEventSinkOnlyRecordsSuccess(t *testing.T) {
	ev := &fakeEvents{}
	sink := NewEventSink(ev)
	ctx := context.Background()

	_ = sink.RecordUsage(ctx, UsageRecord{UserID: uuid.New(), Success: false})
	_ = sink.RecordUsage(ctx, UsageRecord{UserID: uuid.Nil, Success: true})
	_ = sink.RecordUsage(ctx, UsageRecord{UserID: uuid.New(), Success: true})

	if len(ev.events) != 1 || ev.events[0].typ != models.EventAIUsed {
		t.Fatalf("unexpected events %+v", ev.events)
	}
}

func TestParseMediaRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		mime    string
		wantErr bool
	}{
		{"raw base64", b64("abc"), "image/jpeg", false},
		{"data url", "data:image/png;base64," + b64("abc"), "image/png", false},
		{"not base64", "data:image/png;base64,@@@", "", true},
		{"missing base64 marker", "data:image/png," + b64("abc"), "", true},
		{"empty", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMediaRef(tt.ref, "image/jpeg")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if m.MIME != tt.mime || string(m.Data) != "abc" {
				t.Fatalf("got %+v", m)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"```\n[1]\n```", `[1]`},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
