package config

import (
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{
		"TRANSPORT", "TELEGRAM_TOKEN", "DISCORD_TOKEN", "STORAGE", "DATABASE_URL",
		"OPENAI_API_KEY", "EXTERNAL_TIMEOUT", "SESSION_TTL", "DISCORD_REDIRECT_URI",
		"JWT_SECRET",
	} {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"TELEGRAM_TOKEN": "tg",
		"DATABASE_URL":   "postgres://localhost/qarz",
		"OPENAI_API_KEY": "sk",
		"JWT_SECRET":     testSecret,
	})
	cfg, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportTelegram || cfg.Storage != StoragePostgres {
		t.Errorf("transport/storage = %s/%s", cfg.Transport, cfg.Storage)
	}
	if cfg.ExternalTimeout != 20*time.Second || cfg.SessionTTL != 30*time.Minute || cfg.SweepInterval != time.Minute {
		t.Errorf("durations = %s %s %s", cfg.ExternalTimeout, cfg.SessionTTL, cfg.SweepInterval)
	}
	if cfg.DefaultCurrency != "so'm" {
		t.Errorf("currency = %q", cfg.DefaultCurrency)
	}
	if cfg.WebUIBaseURL != "http://localhost:3000" {
		t.Errorf("base url = %q", cfg.WebUIBaseURL)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "telegram needs a token",
			env:     map[string]string{"OPENAI_API_KEY": "sk", "STORAGE": "memory"},
			wantErr: "TELEGRAM_TOKEN",
		},
		{
			name:    "discord needs a token",
			env:     map[string]string{"TRANSPORT": "discord", "OPENAI_API_KEY": "sk", "STORAGE": "memory"},
			wantErr: "DISCORD_TOKEN",
		},
		{
			name:    "unknown transport",
			env:     map[string]string{"TRANSPORT": "irc", "OPENAI_API_KEY": "sk"},
			wantErr: "TRANSPORT",
		},
		{
			name:    "postgres needs a url",
			env:     map[string]string{"TELEGRAM_TOKEN": "tg", "OPENAI_API_KEY": "sk"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "model key",
			env:     map[string]string{"TELEGRAM_TOKEN": "tg", "STORAGE": "memory"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"TELEGRAM_TOKEN": "tg", "STORAGE": "memory", "OPENAI_API_KEY": "sk", "SESSION_TTL": "soon"},
			wantErr: "parse env",
		},
		{
			name:    "postgres needs a jwt secret",
			env:     map[string]string{"TELEGRAM_TOKEN": "tg", "DATABASE_URL": "postgres://localhost/qarz", "OPENAI_API_KEY": "sk"},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "short jwt secret",
			env:     map[string]string{"TELEGRAM_TOKEN": "tg", "STORAGE": "memory", "OPENAI_API_KEY": "sk", "JWT_SECRET": "dev-only-change-me"},
			wantErr: "JWT_SECRET",
		},
		{
			name: "postgres with secret",
			env:  map[string]string{"TELEGRAM_TOKEN": "tg", "DATABASE_URL": "postgres://localhost/qarz", "OPENAI_API_KEY": "sk", "JWT_SECRET": testSecret},
		},
		{
			name: "memory storage needs nothing else",
			env:  map[string]string{"TELEGRAM_TOKEN": "tg", "STORAGE": "memory", "OPENAI_API_KEY": "sk"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := Parse()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStorageGetsRandomSecret(t *testing.T) {
	setEnv(t, map[string]string{"TELEGRAM_TOKEN": "tg", "STORAGE": "memory", "OPENAI_API_KEY": "sk"})
	first, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if len(first.JWTSecret) < minJWTSecretLen || first.JWTSecret == second.JWTSecret {
		t.Errorf("secrets = %q, %q, want distinct random values", first.JWTSecret, second.JWTSecret)
	}
}

func TestExtractBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://qarz.example.com/api/auth/callback", "https://qarz.example.com"},
		{"http://localhost:8080/cb", "http://localhost:8080"},
		{"not a url", "http://localhost:3000"},
	}
	for _, tt := range tests {
		if got := extractBaseURL(tt.in); got != tt.want {
			t.Errorf("extractBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadDatabase(t *testing.T) {
	setEnv(t, nil)
	if _, err := LoadDatabase(); err == nil {
		t.Fatal("want error without DATABASE_URL")
	}
	setEnv(t, map[string]string{"DATABASE_URL": "postgres://localhost/qarz"})
	cfg, err := LoadDatabase()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "postgres://localhost/qarz" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}
