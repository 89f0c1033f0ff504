package config

import "testing"

type testConfig struct {
	SaveDBPath string `env:"SPACE_FORTRESS_SAVE_DB_PATH"`
	PageSize   int    `env:"SPACE_FORTRESS_REPLAY_PAGE_SIZE" envDefault:"200"`
}

func TestParseEnvReadsVariables(t *testing.T) {
	t.Setenv("SPACE_FORTRESS_SAVE_DB_PATH", "saves/game.db")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.SaveDBPath != "saves/game.db" {
		t.Fatalf("expected save db path, got %q", cfg.SaveDBPath)
	}
}

func TestParseEnvAppliesDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.PageSize != 200 {
		t.Fatalf("expected default page size 200, got %d", cfg.PageSize)
	}
}

func TestParseEnvRejectsBadValue(t *testing.T) {
	t.Setenv("SPACE_FORTRESS_REPLAY_PAGE_SIZE", "not-a-number")

	var cfg testConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected parse error for invalid integer")
	}
}
