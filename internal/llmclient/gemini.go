package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// maxRateLimitRetries bounds the backoff-retry loop Generate and
// GenerateStream apply to rate-limited calls.
const maxRateLimitRetries = 3

// ClassifyError sorts a Gemini SDK error into the taxonomy the rest of
// the system acts on. The SDK surfaces HTTP failures as plain errors
// rather than typed ones, so this matches on the status text Google's
// API puts in the message body.
func ClassifyError(err error) types.ErrorKind {
	if err == nil {
		return types.ErrTransport
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return types.ErrRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission_denied") ||
		strings.Contains(msg, "api key not valid") || strings.Contains(msg, "invalid api key"):
		return types.ErrAuthentication
	default:
		return types.ErrTransport
	}
}

// GeminiConfig configures a Gemini-backed Model Client.
type GeminiConfig struct {
	APIKey      string
	Model       string // defaults to "gemini-2.5-flash"
	Temperature float64

	// EnableThinking turns on the model's reasoning/thinking mode.
	EnableThinking bool
	// EnableGoogleSearch grounds responses in live Google Search results.
	EnableGoogleSearch bool
	// EnableURLContext lets the model pull in content from URLs it is given.
	EnableURLContext bool
}

// Gemini implements types.LLMClient against the Gemini API via the
// google.golang.org/genai SDK, used here for chat generation and
// function calling.
type Gemini struct {
	client *genai.Client
	model  string
	temp   float64

	enableThinking     bool
	enableGoogleSearch bool
	enableURLContext   bool
}

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{
		client:             client,
		model:              model,
		temp:               cfg.Temperature,
		enableThinking:     cfg.EnableThinking,
		enableGoogleSearch: cfg.EnableGoogleSearch,
		enableURLContext:   cfg.EnableURLContext,
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, req types.GenerateRequest) (*types.ModelResponse, error) {
	contents, sysInstruction := toGenaiContents(req.Messages)
	config := g.buildConfig(req, sysInstruction)

	logging.LLMDebug("gemini generate: model=%s messages=%d tools=%d", g.model, len(req.Messages), len(req.Tools))

	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			logging.LLMDebug("gemini generate: retry %d/%d after rate limit", attempt, maxRateLimitRetries)
		}
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			lastErr = err
			if ClassifyError(err) == types.ErrRateLimit {
				continue
			}
			return nil, fmt.Errorf("gemini: generate content: %w", err)
		}
		return fromGenaiResponse(resp), nil
	}
	return nil, fmt.Errorf("gemini: generate content: %w", lastErr)
}

func (g *Gemini) GenerateStream(ctx context.Context, req types.GenerateRequest) (types.StreamChunks, error) {
	contents, sysInstruction := toGenaiContents(req.Messages)
	config := g.buildConfig(req, sysInstruction)

	ch := make(chan types.StreamChunk, 16)

	go func() {
		defer close(ch)

		for attempt := 0; ; attempt++ {
			retry := g.streamAttempt(ctx, contents, config, ch)
			if !retry || attempt >= maxRateLimitRetries {
				return
			}
			logging.LLMDebug("gemini stream: retry %d/%d after rate limit", attempt+1, maxRateLimitRetries)
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// streamAttempt runs one streamed call, forwarding chunks as they
// arrive. It reports retry=true only when the call failed before any
// content was produced and the failure classifies as a rate limit —
// once any text, tool call, or response has reached ch, the attempt is
// terminal and errors are surfaced rather than retried, since a retry
// would replay output the caller already has.
func (g *Gemini) streamAttempt(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, ch chan<- types.StreamChunk) bool {
	var textBuilder strings.Builder
	var toolInvocations []types.ToolInvocation
	var lastResp *genai.GenerateContentResponse
	produced := false

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			if !produced && ClassifyError(err) == types.ErrRateLimit {
				return true
			}
			select {
			case ch <- types.StreamChunk{Err: err, Done: true}:
			case <-ctx.Done():
			}
			return false
		}
		lastResp = resp
		if len(resp.Candidates) == 0 {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				textBuilder.WriteString(part.Text)
				produced = true
				select {
				case ch <- types.StreamChunk{Text: part.Text}:
				case <-ctx.Done():
					return false
				}
			}
			if part.FunctionCall != nil {
				inv := types.ToolInvocation{
					ID:        fmt.Sprintf("call_%d", len(toolInvocations)),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}
				toolInvocations = append(toolInvocations, inv)
				produced = true
				select {
				case ch <- types.StreamChunk{ToolInvocation: &inv}:
				case <-ctx.Done():
					return false
				}
			}
		}
	}

	final := &types.ModelResponse{
		Text:            textBuilder.String(),
		ToolInvocations: toolInvocations,
		StopReason:      types.StopEndTurn,
	}
	if lastResp != nil {
		final = fromGenaiResponse(lastResp)
		final.Text = textBuilder.String()
		if len(toolInvocations) > 0 {
			final.ToolInvocations = toolInvocations
			final.StopReason = types.StopToolUse
		}
	}
	select {
	case ch <- types.StreamChunk{Done: true, Response: final}:
	case <-ctx.Done():
	}
	return false
}

// CountTokens uses a local character-based heuristic rather than the
// SDK's CountTokens RPC. This interface is called synchronously and
// frequently — once per message during every context assembly and
// summarizer threshold check — and token budgeting doesn't need
// API-exact counts, just a stable approximation.
func (g *Gemini) CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func (g *Gemini) IsAvailable(ctx context.Context) bool {
	_, err := g.client.Models.Get(ctx, g.model, nil)
	return err == nil
}

func (g *Gemini) buildConfig(req types.GenerateRequest, sysInstruction *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: sysInstruction,
	}
	if req.Temperature != 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	} else if g.temp != 0 {
		temp := float32(g.temp)
		config.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Schema),
			}
		}
		config.Tools = append(config.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if g.enableGoogleSearch {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if g.enableURLContext {
		config.Tools = append(config.Tools, &genai.Tool{URLContext: &genai.URLContext{}})
	}
	if g.enableThinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return config
}

// toGenaiContents splits messages into the conversational turns Gemini
// expects (role "user"/"model", tool results as role "function") and
// the single system instruction Gemini takes out-of-band.
func toGenaiContents(messages []types.Message) ([]*genai.Content, *genai.Content) {
	var sysInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			sysInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(m.Content)}}
		case types.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case types.RoleAssistant:
			contents = append(contents, assistantContent(m))
		case types.RoleTool:
			contents = append(contents, toolResultContent(m))
		}
	}
	return contents, sysInstruction
}

func assistantContent(m types.Message) *genai.Content {
	var parts []*genai.Part
	if m.Content != "" {
		parts = append(parts, genai.NewPartFromText(m.Content))
	}
	for _, inv := range m.ToolInvocations {
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{Name: inv.Name, Args: inv.Arguments},
		})
	}
	return &genai.Content{Role: "model", Parts: parts}
}

func toolResultContent(m types.Message) *genai.Content {
	var parts []*genai.Part
	for _, r := range m.ToolResults {
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				Name:     m.AuthorModelID,
				Response: map[string]any{"content": r.Content, "is_error": r.IsError},
			},
		})
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(m.Content))
	}
	return &genai.Content{Role: "function", Parts: parts}
}

func fromGenaiResponse(resp *genai.GenerateContentResponse) *types.ModelResponse {
	out := &types.ModelResponse{StopReason: types.StopEndTurn}
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]

	var textBuilder strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			textBuilder.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			out.ToolInvocations = append(out.ToolInvocations, types.ToolInvocation{
				ID:        fmt.Sprintf("call_%d", len(out.ToolInvocations)),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	out.Text = textBuilder.String()
	out.StopReason = stopReasonFrom(cand.FinishReason, len(out.ToolInvocations) > 0)

	if resp.UsageMetadata != nil {
		out.Usage = types.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

func stopReasonFrom(finish genai.FinishReason, hasToolCalls bool) types.StopReason {
	if hasToolCalls {
		return types.StopToolUse
	}
	switch finish {
	case genai.FinishReasonMaxTokens:
		return types.StopMaxTokens
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
		return types.StopEndTurn
	default:
		return types.StopEndTurn
	}
}
