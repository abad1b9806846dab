package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.City.BillboardSlotArea != 320 {
		t.Errorf("default slot area = %v, want 320", cfg.City.BillboardSlotArea)
	}
	if cfg.City.BillboardMaxSlots != 8 {
		t.Errorf("default max slots = %d, want 8", cfg.City.BillboardMaxSlots)
	}
	if cfg.Payments.PIXStatusPath != "$.status" {
		t.Errorf("default pix status path = %q", cfg.Payments.PIXStatusPath)
	}
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short JWT secret")
	}
}

func TestAdminKeysAndOrigins(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ADMIN_API_KEYS", "key-one, key-two,,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://gitcity.dev, http://localhost:3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	keys := cfg.AdminKeys()
	if len(keys) != 2 || keys[0] != "key-one" || keys[1] != "key-two" {
		t.Fatalf("AdminKeys() = %v", keys)
	}

	origins := cfg.Origins()
	if len(origins) != 2 || origins[0] != "https://gitcity.dev" {
		t.Fatalf("Origins() = %v", origins)
	}
}
