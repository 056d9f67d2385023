// internal/gpt/client.go
package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"fitpro/internal/search"
	"fitpro/pkg/logger"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"

	webSearchTool = "web_search"
)

var ErrEmptyResponse = errors.New("no response from AI provider")

// Searcher backs the web_search tool.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

type Options struct {
	APIKey             string
	BaseURL            string
	Model              string
	ReasoningModel     string
	VisionModel        string
	TranscriptionModel string
	TTSModel           string
	TTSVoice           string
	Timeout            time.Duration
	MaxTokens          int
	Temperature        float32
	MaxToolRounds      int
}

// Message is one turn of a conversation. ImageURL carries a data: URL for
// vision input.
type Message struct {
	Role     string
	Text     string
	ImageURL string
}

type Request struct {
	System    string
	Messages  []Message
	JSONMode  bool
	Search    bool
	Reasoning bool
	Vision    bool
	// Model overrides the configured model when set.
	Model string
}

type WebChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type GroundingChunk struct {
	Web *WebChunk `json:"web,omitempty"`
}

type Result struct {
	Text            string
	GroundingChunks []GroundingChunk
	Model           string
	TotalTokens     int
}

type Client struct {
	client   *openai.Client
	opts     Options
	searcher Searcher
	logger   *logger.Logger
}

func NewClient(opts Options, searcher Searcher, log *logger.Logger) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.ReasoningModel == "" {
		opts.ReasoningModel = opts.Model
	}
	if opts.VisionModel == "" {
		opts.VisionModel = opts.Model
	}
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = openai.Whisper1
	}
	if opts.TTSModel == "" {
		opts.TTSModel = string(openai.TTSModel1)
	}
	if opts.TTSVoice == "" {
		opts.TTSVoice = string(openai.VoiceAlloy)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2500
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 2
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		client:   openai.NewClientWithConfig(cfg),
		opts:     opts,
		searcher: searcher,
		logger:   log.Named("gpt"),
	}
}

func (c *Client) model(req Request) string {
	switch {
	case req.Model != "":
		return req.Model
	case req.Reasoning:
		return c.opts.ReasoningModel
	case req.Vision:
		return c.opts.VisionModel
	default:
		return c.opts.Model
	}
}

// Complete runs a chat completion. When search is requested and a searcher is
// configured the model may call web_search; calls are executed here and their
// results become the grounding chunks.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	model := c.model(req)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(req),
	}
	if req.Reasoning {
		chatReq.MaxCompletionTokens = c.opts.MaxTokens
	} else {
		chatReq.MaxTokens = c.opts.MaxTokens
		chatReq.Temperature = c.opts.Temperature
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	useTools := req.Search && c.searcher != nil
	if useTools {
		chatReq.Tools = []openai.Tool{searchTool()}
	}

	result := &Result{Model: model, GroundingChunks: []GroundingChunk{}}
	for round := 0; ; round++ {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, fmt.Errorf("chat completion: %w", err)
		}
		result.TotalTokens += resp.Usage.TotalTokens
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 || !useTools {
			result.Text = msg.Content
			return result, nil
		}

		chatReq.Messages = append(chatReq.Messages, msg)
		for _, call := range msg.ToolCalls {
			content := c.runTool(ctx, call, result)
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
		// the final round must answer in text
		if round+1 >= c.opts.MaxToolRounds {
			chatReq.Tools = nil
			useTools = false
		}
	}
}

func (c *Client) runTool(ctx context.Context, call openai.ToolCall, result *Result) string {
	if call.Function.Name != webSearchTool {
		return `{"error":"unknown tool"}`
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return `{"error":"invalid arguments"}`
	}
	hits, err := c.searcher.Search(ctx, args.Query)
	if err != nil {
		c.logger.Warnw("web search failed", "query", args.Query, "error", err)
		return `{"error":"search unavailable"}`
	}
	for _, h := range hits {
		result.GroundingChunks = append(result.GroundingChunks, GroundingChunk{Web: &WebChunk{URI: h.URL, Title: h.Title}})
	}
	raw, _ := json.Marshal(hits)
	return string(raw)
}

func searchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        webSearchTool,
			Description: "Search the web for current information. Use it for facts that need a source.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {Type: jsonschema.String, Description: "search query"},
				},
				Required: []string{"query"},
			},
		},
	}
}

func toOpenAI(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleModel, openai.ChatMessageRoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		if m.ImageURL == "" {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
			continue
		}
		parts := []openai.ChatMessagePart{}
		if m.Text != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Text})
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL, Detail: openai.ImageURLDetailAuto},
		})
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// Transcribe converts audio to text. format is the file extension, e.g. mp3.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.opts.TranscriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio." + format,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

// Speak synthesizes text to mp3 audio.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.opts.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.opts.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResponse
	}
	return audio, nil
}
