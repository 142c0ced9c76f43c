// Package config provides configuration loading for alignd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables with the ALIGND_ prefix. Defaults are applied for anything left
// unset, and the result is validated before use.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/alignd/internal/enforce"
	"github.com/fyrsmithlabs/alignd/internal/retrieval"
)

// Config holds the complete alignd configuration.
type Config struct {
	Server      ServerConfig     `koanf:"server"`
	Logging     LoggingConfig    `koanf:"logging"`
	Telemetry   TelemetryConfig  `koanf:"telemetry"`
	Rules       retrieval.Config `koanf:"rules"`
	Scenarios   retrieval.Config `koanf:"scenarios"`
	Memories    retrieval.Config `koanf:"memories"`
	Enforcement enforce.Config   `koanf:"enforcement"`
	Navigation  NavigationConfig `koanf:"navigation"`
	Providers   ProvidersConfig  `koanf:"providers"`
	MemoryBank  MemoryBankConfig `koanf:"memorybank"`

	// FallbackResponse is returned verbatim when enforcement exhausts its
	// regeneration budget without producing a compliant response.
	FallbackResponse string `koanf:"fallback_response"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds metrics configuration.
type TelemetryConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// NavigationConfig holds scenario navigation configuration.
type NavigationConfig struct {
	// MaxLoopCount is how many consecutive turns a session may sit on the
	// same step before relocalization triggers.
	MaxLoopCount int `koanf:"max_loop_count"`
	// RelationshipDepth bounds rule relationship expansion.
	RelationshipDepth int `koanf:"relationship_depth"`
}

// ProviderConfig points at one OpenAI-compatible model endpoint.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// ProvidersConfig groups the model endpoints the engine depends on.
// Judge falls back to Reasoner when left empty.
type ProvidersConfig struct {
	Embeddings ProviderConfig `koanf:"embeddings"`
	Reasoner   ProviderConfig `koanf:"reasoner"`
	Judge      ProviderConfig `koanf:"judge"`
}

// MemoryBankConfig holds the conversation memory index configuration.
// An empty Path selects the in-memory index.
type MemoryBankConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}

	for name, rc := range map[string]retrieval.Config{
		"rules":     c.Rules,
		"scenarios": c.Scenarios,
		"memories":  c.Memories,
	} {
		if err := rc.Selection.Validate(); err != nil {
			return fmt.Errorf("%s selection: %w", name, err)
		}
	}

	if c.Enforcement.MaxRetries < 0 {
		return errors.New("enforcement max_retries cannot be negative")
	}
	if c.Navigation.MaxLoopCount < 0 {
		return errors.New("navigation max_loop_count cannot be negative")
	}
	if c.Navigation.RelationshipDepth < 0 {
		return errors.New("navigation relationship_depth cannot be negative")
	}

	return nil
}
