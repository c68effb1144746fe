package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/logging"
)

func TestLoadConfig(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("loading config from tests directory", func(t *testing.T) {
		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), "../../tests")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig == nil {
			t.Fatalf("Service config is nil")
		}
	})

	t.Run("setting environment variables", func(t *testing.T) {
		os.Setenv("OPENROUTER_API_KEY", "sk-test")
		t.Cleanup(func() {
			os.Unsetenv("OPENROUTER_API_KEY")
		})
		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), "../../tests")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig == nil {
			t.Fatalf("Service config is nil")
		}
		if serviceConfig.OpenRouter.APIKey != "sk-test" {
			t.Fatalf("OpenRouter API key is not sk-test, got %s", serviceConfig.OpenRouter.APIKey)
		}
	})

	t.Run("CONFIG_PATH overrides base config values", func(t *testing.T) {
		// Create a base config with sqlite and port 8080
		baseDir := t.TempDir()
		baseContent := `
service:
  port: 8080
  ready_file: "/tmp/arena-ready"
  termination_file: "/tmp/termination-log"
database:
  driver: sqlite
  url: "file::memory:?mode=memory&cache=shared"
`
		err := os.WriteFile(filepath.Join(baseDir, "config.yaml"), []byte(baseContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write base config: %v", err)
		}

		// Operator-mounted config overrides the database driver
		operatorDir := t.TempDir()
		operatorContent := `
database:
  driver: pgx
  url: "postgres://localhost:5432/model_arena"
`
		err = os.WriteFile(filepath.Join(operatorDir, "config.yaml"), []byte(operatorContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write operator config: %v", err)
		}

		os.Setenv("CONFIG_PATH", filepath.Join(operatorDir, "config.yaml"))
		t.Cleanup(func() {
			os.Unsetenv("CONFIG_PATH")
		})

		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		// database.driver should be overridden by CONFIG_PATH
		db := *serviceConfig.Database
		if driver, ok := db["driver"]; !ok || driver.(string) != "pgx" {
			t.Fatalf("Expected database driver pgx from CONFIG_PATH, got %v", db["driver"])
		}
		// service.port should be preserved from the base config
		if serviceConfig.Service.Port != 8080 {
			t.Fatalf("Expected port 8080 from base config, got %d", serviceConfig.Service.Port)
		}
	})

	t.Run("CONFIG_PATH without service section preserves base service config", func(t *testing.T) {
		// Create a base config with service section
		baseDir := t.TempDir()
		baseContent := `
service:
  port: 8080
  ready_file: "/tmp/arena-ready"
  termination_file: "/tmp/termination-log"
database:
  driver: sqlite
  url: "file::memory:?mode=memory&cache=shared"
`
		err := os.WriteFile(filepath.Join(baseDir, "config.yaml"), []byte(baseContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write base config: %v", err)
		}

		// Operator config has no service section
		operatorDir := t.TempDir()
		operatorContent := `
database:
  driver: pgx
secrets:
  dir: /tmp
  mappings:
    db-url:optional: database.url
`
		err = os.WriteFile(filepath.Join(operatorDir, "config.yaml"), []byte(operatorContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write operator config: %v", err)
		}

		os.Setenv("CONFIG_PATH", filepath.Join(operatorDir, "config.yaml"))
		t.Cleanup(func() {
			os.Unsetenv("CONFIG_PATH")
		})

		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig.Service == nil {
			t.Fatalf("Service should be preserved from base config")
		}
		if serviceConfig.Service.Port != 8080 {
			t.Fatalf("Expected port 8080 from base config, got %d", serviceConfig.Service.Port)
		}
	})

	t.Run("CONFIG_PATH replaces bundled secret mappings", func(t *testing.T) {
		// Bundled config has a non-optional secret mapping (db_password).
		// Operator config has a different mapping (db-url).
		// After merge, only the operator's mapping should exist.
		baseDir := t.TempDir()
		baseContent := `
service:
  port: 8080
  ready_file: "/tmp/arena-ready"
  termination_file: "/tmp/termination-log"
secrets:
  dir: /tmp
  mappings:
    db_password: database.password
`
		err := os.WriteFile(filepath.Join(baseDir, "config.yaml"), []byte(baseContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write base config: %v", err)
		}

		operatorDir := t.TempDir()
		operatorContent := `
database:
  driver: pgx
secrets:
  dir: /tmp
  mappings:
    db-url:optional: database.url
`
		err = os.WriteFile(filepath.Join(operatorDir, "config.yaml"), []byte(operatorContent), 0600)
		if err != nil {
			t.Fatalf("Failed to write operator config: %v", err)
		}

		os.Setenv("CONFIG_PATH", filepath.Join(operatorDir, "config.yaml"))
		t.Cleanup(func() {
			os.Unsetenv("CONFIG_PATH")
		})

		// the bundled mapping is not read, /tmp/db_password does not exist
		_ = os.Remove("/tmp/db_password")
		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), baseDir)
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig == nil {
			t.Fatalf("Service config is nil")
		}
		db := *serviceConfig.Database
		if driver, ok := db["driver"]; !ok || driver.(string) != "pgx" {
			t.Fatalf("Expected database driver pgx from CONFIG_PATH, got %v", db["driver"])
		}
		if _, ok := db["password"]; ok {
			t.Fatalf("Expected no database password from the bundled secret mapping, got %v", db["password"])
		}
		if serviceConfig.Service.Port != 8080 {
			t.Fatalf("Expected port 8080 from base config, got %d", serviceConfig.Service.Port)
		}
	})

	t.Run("loading config from secrets directory", func(t *testing.T) {
		// create a secret and store in /tmp/db_password
		secret := "mysecret"
		secretPath := "/tmp/db_password"
		err := os.WriteFile(secretPath, []byte(secret), 0600)
		if err != nil {
			t.Fatalf("Failed to create secret: %v", err)
		}
		t.Cleanup(func() {
			os.Remove(secretPath)
		})
		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), "../../tests")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig == nil {
			t.Fatalf("Service config is nil")
		}
		if serviceConfig.Database == nil {
			t.Fatalf("Database config is nil")
		}
		db := *serviceConfig.Database
		if password, ok := db["password"]; ok {
			if password.(string) != secret {
				t.Fatalf("Database password is not %s, got %s", secret, password.(string))
			}
		} else {
			t.Fatalf("Database password is not set")
		}
	})

	t.Run("defaults are applied to missing sections", func(t *testing.T) {
		serviceConfig, err := config.LoadConfig(logger, "0.0.1", "local", time.Now().Format(time.RFC3339), "../../tests")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if serviceConfig.Runs.MaxConcurrentParticipants != 10 {
			t.Fatalf("Expected 10 concurrent participants by default, got %d", serviceConfig.Runs.MaxConcurrentParticipants)
		}
		if serviceConfig.Runs.RepetitionTimeout != 5*time.Second {
			t.Fatalf("Expected the repetition timeout from the config file, got %s", serviceConfig.Runs.RepetitionTimeout)
		}
		if serviceConfig.Judge.Model == "" {
			t.Fatalf("Expected a default judge model")
		}
		if serviceConfig.Telemetry.Exporter != "none" {
			t.Fatalf("Expected telemetry to be disabled by default, got %s", serviceConfig.Telemetry.Exporter)
		}
	})
}

func TestLoadParticipantConfigs(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("loading the bundled participants", func(t *testing.T) {
		participants, err := config.LoadParticipantConfigs(logger, "../../config/participants")
		if err != nil {
			t.Fatalf("Failed to load participants: %v", err)
		}
		found := map[string]bool{}
		for _, p := range participants {
			found[p.ID] = true
			if p.Name == "" || p.Kind == "" || p.Color == "" {
				t.Fatalf("Participant %s is missing derived fields: %+v", p.ID, p)
			}
		}
		for _, id := range []string{"local/echo", "local/flaky", "openai/gpt-4o-mini"} {
			if !found[id] {
				t.Fatalf("Expected participant %s to be loaded", id)
			}
		}
	})

	t.Run("duplicate ids are rejected", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"a.yaml", "b.yaml"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("id: same/model\nkind: scripted\n"), 0600); err != nil {
				t.Fatalf("Failed to write participant: %v", err)
			}
		}
		if _, err := config.LoadParticipantConfigs(logger, dir); err == nil {
			t.Fatalf("Expected an error for duplicate participant ids")
		}
	})

	t.Run("missing directory gives no participants", func(t *testing.T) {
		participants, err := config.LoadParticipantConfigs(logger, filepath.Join(t.TempDir(), "missing"))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(participants) != 0 {
			t.Fatalf("Expected no participants, got %d", len(participants))
		}
	})
}

func TestDeriveNames(t *testing.T) {
	cases := []struct {
		model    string
		name     string
		provider string
	}{
		{"openai/gpt-4o-mini", "Gpt-4o-Mini", "OpenAI"},
		{"meta-llama/llama-3.3-70b-instruct", "Llama-3.3-70b-Instruct", "Meta"},
		{"anthropic/claude-sonnet-4", "Claude-Sonnet-4", "Anthropic"},
		{"mistralai/mistral-large", "Mistral-Large", "MistralAI"},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			if got := config.DeriveName(tc.model); got != tc.name {
				t.Errorf("DeriveName(%s) = %s, expected %s", tc.model, got, tc.name)
			}
			if got := config.DeriveProvider(tc.model); got != tc.provider {
				t.Errorf("DeriveProvider(%s) = %s, expected %s", tc.model, got, tc.provider)
			}
		})
	}
}
