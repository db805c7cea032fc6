package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestLoad_ResolvesKeyringReferences(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	if err := SetSecret("line-secret", "from-keychain"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{
		"supabase": {"url": "https://x.supabase.co"},
		"line": {"channelSecret": "keyring:line-secret", "channelAccessToken": "plain-token"}
	}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LINE.ChannelSecret != "from-keychain" {
		t.Fatalf("expected keychain value, got %q", cfg.LINE.ChannelSecret)
	}
	if cfg.LINE.ChannelAccessToken != "plain-token" {
		t.Fatalf("plain values must be untouched, got %q", cfg.LINE.ChannelAccessToken)
	}
}

func TestLoad_MissingKeyringAccountFails(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"supabase": {"url": "https://x.supabase.co", "key": "keyring:absent"}}`), 0o600)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a missing keychain account")
	}
}

func TestLoad_EnvBeatsKeyring(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	SetSecret("gem", "keychain-key")
	t.Setenv("GEMINI_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"supabase": {"url": "https://x.supabase.co"}, "ai": {"provider": "gemini", "model": "m", "apiKey": "keyring:gem"}}`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AI.APIKey != "env-key" {
		t.Fatalf("expected env to win, got %q", cfg.AI.APIKey)
	}
}

func TestDeleteSecret(t *testing.T) {
	keyring.MockInit()
	SetSecret("tmp", "v")
	if err := DeleteSecret("tmp"); err != nil {
		t.Fatal(err)
	}
	if _, err := GetSecret("tmp"); err == nil {
		t.Fatal("secret should be gone")
	}
}
