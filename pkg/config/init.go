package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by InitConfig when the target file exists and
// force is not set.
var ErrConfigExists = errors.New("config file already exists")

// InitConfig writes a sample configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w at %s (use --force to overwrite)", ErrConfigExists, path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(sampleConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func sampleConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Locations = map[string]map[string]any{
		"/": {"auto_index": true},
	}
	return cfg
}

// section pairs a top-level key with its header comment.
type section struct {
	key     string
	comment string
	value   any
}

// generateYAMLWithComments renders cfg one top-level section at a time so
// each can carry an explanatory header.
func generateYAMLWithComments(cfg *Config) (string, error) {
	sections := []section{
		{"logging", "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json),\n" +
			"output and optional access_log / error_log destinations", cfg.Logging},
		{"bind", "Listening address", cfg.Bind},
		{"server", "Document root, error page, caches and timeouts", cfg.Server},
		{"allowlist", "When non-empty only matching clients (CIDR or address) are served", cfg.Allowlist},
		{"blocklist", "Matching clients are refused. Ignored when allowlist is non-empty", cfg.Blocklist},
		{"rate_limit", "max_requests bounds concurrent requests (0 = unlimited);\n" +
			"requests_per_second/burst add an optional token bucket", cfg.RateLimit},
		{"locations", "Per-prefix listing rules: auto_index and index", cfg.Locations},
		{"metrics", "Prometheus endpoint", cfg.Metrics},
	}

	var b strings.Builder
	b.WriteString("# Zest Configuration File\n")
	b.WriteString("# Send SIGHUP to the running process to apply changes.\n")

	for _, s := range sections {
		out, err := yaml.Marshal(map[string]any{s.key: s.value})
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s section: %w", s.key, err)
		}

		b.WriteString("\n")
		for _, line := range strings.Split(s.comment, "\n") {
			b.WriteString("# " + line + "\n")
		}
		b.Write(out)
	}

	return b.String(), nil
}
