package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"linegem/internal/domain"
)

// Gemini implements domain.Provider for the Google Generative Language API.
type Gemini struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }
func (g *Gemini) Models() []string {
	return []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash", "gemini-2.5-flash"}
}

func (g *Gemini) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini not reachable: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("gemini: invalid API key (HTTP %d)", resp.StatusCode)
	default:
		return fmt.Errorf("gemini returned %d", resp.StatusCode)
	}
}

type gemRequest struct {
	Contents         []gemContent  `json:"contents"`
	GenerationConfig *gemGenConfig `json:"generationConfig,omitempty"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

type gemPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *gemInlineData `json:"inlineData,omitempty"`
}

type gemInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type gemGenConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type gemResponse struct {
	Candidates     []gemCandidate     `json:"candidates"`
	PromptFeedback *gemPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  gemUsage           `json:"usageMetadata"`
	ModelVersion   string             `json:"modelVersion"`
}

type gemCandidate struct {
	Content      gemContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type gemPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type gemUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Generate sends all parts as a single user turn.
func (g *Gemini) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if len(req.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty prompt")
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	parts := make([]gemPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsInline() {
			parts = append(parts, gemPart{InlineData: &gemInlineData{
				MimeType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		parts = append(parts, gemPart{Text: p.Text})
	}

	body := gemRequest{Contents: []gemContent{{Role: "user", Parts: parts}}}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		body.GenerationConfig = &gemGenConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			body.GenerationConfig.Temperature = &req.Temperature
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.apiBase, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var gemResp gemResponse
	if err := json.NewDecoder(resp.Body).Decode(&gemResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if gemResp.PromptFeedback != nil && gemResp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini: prompt blocked: %s", gemResp.PromptFeedback.BlockReason)
	}
	if len(gemResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates returned")
	}

	cand := gemResp.Candidates[0]
	switch cand.FinishReason {
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return nil, fmt.Errorf("gemini: response blocked: %s", cand.FinishReason)
	}

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	latency := time.Since(start)
	g.logger.Debug("gemini response", "model", model, "latency", latency, "tokens", gemResp.UsageMetadata.TotalTokenCount)

	if gemResp.ModelVersion != "" {
		model = gemResp.ModelVersion
	}
	return &domain.GenerateResponse{
		Text:         text.String(),
		Model:        model,
		FinishReason: cand.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     gemResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: gemResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gemResp.UsageMetadata.TotalTokenCount,
		},
		LatencyMs: latency.Milliseconds(),
	}, nil
}
