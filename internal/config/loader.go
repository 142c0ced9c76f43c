package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/alignd/internal/selection"
)

const (
	envPrefix         = "ALIGND_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// subsections are nested config blocks reachable from environment
// variables. The env key mapper splits them out a second time so
// ALIGND_RULES_SELECTION_MIN_SCORE lands on rules.selection.min_score.
var subsections = []string{"selection", "embeddings", "reasoner", "judge"}

// defaults is the base configuration layer. It is loaded before the file
// and environment layers, so any value they set explicitly wins over it,
// zeros included: enforcement.max_retries=0 means fail immediately, not
// "use the default".
func defaults() map[string]any {
	return map[string]any{
		"server.host":             "0.0.0.0",
		"server.port":             8086,
		"server.shutdown_timeout": "10s",

		"logging.level":  "info",
		"logging.format": "json",

		"telemetry.namespace": "alignd",

		"rules.selection.strategy": selection.MethodFixedK,
		"rules.selection.max_k":    10,
		"rules.selection.min_k":    1,

		"scenarios.selection.strategy": selection.MethodFixedK,
		"scenarios.selection.max_k":    3,

		"memories.selection.strategy": selection.MethodFixedK,
		"memories.selection.max_k":    5,

		"enforcement.max_retries": 2,

		"navigation.max_loop_count":     3,
		"navigation.relationship_depth": 2,

		"providers.embeddings.base_url": "http://localhost:8080/v1",
		"providers.embeddings.model":    "BAAI/bge-small-en-v1.5",
		"providers.reasoner.base_url":   "http://localhost:8080/v1",

		"fallback_response": "I'm sorry, I can't help with that request right now.",
	}
}

// Load reads configuration with the following precedence, highest first:
//
//  1. Environment variables (ALIGND_SERVER_PORT, ALIGND_LOGGING_LEVEL, ...)
//  2. YAML config file at path, if path is non-empty and the file exists
//  3. Defaults
//
// Environment keys are mapped section-first: the first underscore separates
// the section from the field, so ALIGND_ENFORCEMENT_MAX_RETRIES becomes
// enforcement.max_retries.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Judge inherits the reasoner endpoint when left unconfigured.
	if cfg.Providers.Judge.BaseURL == "" {
		cfg.Providers.Judge = cfg.Providers.Reasoner
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// readConfigFile returns the file's contents, or nil when the file does not
// exist. The open file descriptor is stat'd and read directly so the size
// check and the read see the same file.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKeyMapper maps ALIGND_SECTION_FIELD_NAME to section.field_name.
// Underscores inside field names are preserved; only the section boundary
// (and a known subsection boundary, when present) becomes a dot.
func envKeyMapper(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if lower == "fallback_response" {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, rest := parts[0], parts[1]
	for _, sub := range subsections {
		if strings.HasPrefix(rest, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(rest, sub+"_")
		}
	}
	return section + "." + rest
}
