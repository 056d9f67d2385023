// internal/ai/router.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitpro/internal/gpt"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

// Gateway is the provider-facing client the router dispatches to.
type Gateway interface {
	Complete(ctx context.Context, req gpt.Request) (*gpt.Result, error)
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Envelope is the only shape callers ever get back. Error is set when
// Success is false.
type Envelope struct {
	Success bool        `json:"success"`
	Data    *gpt.Result `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Options struct {
	UserID    uuid.UUID
	Source    string
	System    string
	JSONMode  bool
	Search    bool
	Reasoning bool
	Model     string
}

type Router struct {
	gateway Gateway
	usage   *UsageLog
	logger  *logger.Logger
	now     func() time.Time
}

func NewRouter(gateway Gateway, usage *UsageLog, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	if usage == nil {
		usage = NewUsageLog(log, 0)
	}
	return &Router{gateway: gateway, usage: usage, logger: log.Named("router"), now: time.Now}
}

func (r *Router) request(opts Options, msgs []gpt.Message) gpt.Request {
	return gpt.Request{
		System:    opts.System,
		Messages:  msgs,
		JSONMode:  opts.JSONMode,
		Search:    opts.Search,
		Reasoning: opts.Reasoning,
		Model:     opts.Model,
	}
}

// Text sends a conversation to the text model.
func (r *Router) Text(ctx context.Context, messages []gpt.Message, opts Options) Envelope {
	return r.run(ctx, InputText, opts, func(ctx context.Context) (*gpt.Result, error) {
		if len(messages) == 0 {
			return nil, errors.New("no messages")
		}
		return r.gateway.Complete(ctx, r.request(opts, messages))
	})
}

// Image sends an image with a prompt to the vision model. The image MIME type
// defaults to image/jpeg.
func (r *Router) Image(ctx context.Context, mediaRef, prompt string, opts Options) Envelope {
	return r.run(ctx, InputImage, opts, func(ctx context.Context) (*gpt.Result, error) {
		media, err := ParseMediaRef(mediaRef, "image/jpeg")
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(media.MIME, "image/") {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, media.MIME)
		}
		req := r.request(opts, []gpt.Message{{Role: gpt.RoleUser, Text: prompt, ImageURL: media.DataURL()}})
		req.Vision = true
		return r.gateway.Complete(ctx, req)
	})
}

// Audio transcribes an mp3 or wav clip and answers it with the text model.
func (r *Router) Audio(ctx context.Context, mediaRef, format, prompt string, opts Options) Envelope {
	return r.run(ctx, InputAudio, opts, func(ctx context.Context) (*gpt.Result, error) {
		format = strings.ToLower(strings.TrimSpace(format))
		if format != "mp3" && format != "wav" {
			return nil, fmt.Errorf("%w: audio/%s", ErrUnsupportedMedia, format)
		}
		media, err := ParseMediaRef(mediaRef, "audio/"+format)
		if err != nil {
			return nil, err
		}
		transcript, err := r.gateway.Transcribe(ctx, media.Data, format)
		if err != nil {
			return nil, err
		}
		text := transcript
		if prompt != "" {
			text = prompt + "\n\nTranscript:\n" + transcript
		}
		return r.gateway.Complete(ctx, r.request(opts, []gpt.Message{{Role: gpt.RoleUser, Text: text}}))
	})
}

// File inlines a text-like document into the prompt. Binary documents fail.
func (r *Router) File(ctx context.Context, mediaRef, filename, prompt string, opts Options) Envelope {
	return r.run(ctx, InputFile, opts, func(ctx context.Context) (*gpt.Result, error) {
		media, err := ParseMediaRef(mediaRef, mimeFromFilename(filename))
		if err != nil {
			return nil, err
		}
		if media.MIME == "application/octet-stream" {
			media.MIME = mimeFromFilename(filename)
		}
		if !IsTextLike(media.MIME) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, media.MIME)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "File %q (%s):\n", filename, media.MIME)
		b.Write(media.Data)
		if prompt != "" {
			b.WriteString("\n\n")
			b.WriteString(prompt)
		}
		return r.gateway.Complete(ctx, r.request(opts, []gpt.Message{{Role: gpt.RoleUser, Text: b.String()}}))
	})
}

func (r *Router) run(ctx context.Context, input InputType, opts Options, call func(context.Context) (*gpt.Result, error)) (env Envelope) {
	start := r.now()
	var model string
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("ai call panicked", "inputType", input, "panic", p)
			env = Envelope{Success: false, Error: "internal error"}
		}
		r.usage.Record(UsageRecord{
			UserID:    opts.UserID,
			InputType: input,
			Source:    opts.Source,
			Success:   env.Success,
			Model:     model,
			Duration:  r.now().Sub(start),
			Timestamp: r.now().UTC(),
		})
	}()

	res, err := call(ctx)
	if err != nil {
		r.logger.Warnw("ai call failed", "inputType", input, "source", opts.Source, "error", err)
		return Envelope{Success: false, Error: err.Error()}
	}
	if res == nil {
		return Envelope{Success: false, Error: gpt.ErrEmptyResponse.Error()}
	}
	if res.GroundingChunks == nil {
		res.GroundingChunks = []gpt.GroundingChunk{}
	}
	model = res.Model
	return Envelope{Success: true, Data: res}
}
