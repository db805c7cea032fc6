package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"linegem/internal/config"
	"linegem/internal/domain"
)

func TestOpenAI_TextOnlyUsesStringContent(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	resp, err := o.Generate(context.Background(), domain.GenerateRequest{Parts: []domain.Part{domain.TextPart("ping")}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "pong" {
		t.Fatalf("expected pong, got %q", resp.Text)
	}
	msgs := raw["messages"].([]any)
	content := msgs[0].(map[string]any)["content"]
	if content != "ping" {
		t.Fatalf("expected string content, got %#v", content)
	}
}

func TestOpenAI_ImageUsesDataURL(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"choices":[{"message":{"content":"dog"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	_, err := o.Generate(context.Background(), domain.GenerateRequest{
		Parts: []domain.Part{domain.TextPart("animal?"), domain.InlinePart("image/jpeg", []byte("abc"))},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parts := raw["messages"].([]any)[0].(map[string]any)["content"].([]any)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if img != "data:image/jpeg;base64,YWJj" {
		t.Fatalf("unexpected data url %q", img)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	if _, err := o.Generate(context.Background(), domain.GenerateRequest{Parts: []domain.Part{domain.TextPart("x")}}); err == nil {
		t.Fatal("expected error for no choices")
	}
}

func TestFactory_BuildsConfiguredProviderOnce(t *testing.T) {
	f := NewFactory(config.AIConfig{Provider: "gemini", APIKey: "k", Model: "gemini-2.0-flash"}, testLogger())
	p1, err := f.Provider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	p2, _ := f.Provider()
	if p1 != p2 {
		t.Fatal("factory should cache the provider")
	}
	if p1.Name() != "gemini" {
		t.Fatalf("expected gemini, got %s", p1.Name())
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := NewFactory(config.AIConfig{Provider: "nope"}, testLogger())
	if _, err := f.Provider(); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	f := NewFactory(config.AIConfig{Provider: "custom"}, testLogger())
	f.RegisterConstructor("custom", func(c config.AIConfig, _ *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Model: "custom-model"})
	})
	p, err := f.Provider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected custom constructor result, got %s", p.Name())
	}
}
