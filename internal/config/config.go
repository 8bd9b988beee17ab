package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Auditware/radar/internal/model"
	"github.com/Auditware/radar/internal/rules"
)

// FileName is the project configuration file searched for by Load.
const FileName = ".radar.yaml"

type IgnoreRule struct {
	// Rule is a rule id or "*".
	Rule string `yaml:"rule"`
	// Path is a slash-separated path prefix.
	Path   string `yaml:"path,omitempty"`
	Reason string `yaml:"reason,omitempty"`
	// Expires (YYYY-MM-DD) ends the suppression on that date.
	Expires string `yaml:"expires,omitempty"`
}

// Expired reports whether the entry stopped applying at or before now.
func (r IgnoreRule) Expired(now time.Time) bool {
	if r.Expires == "" {
		return false
	}
	t, err := time.Parse("2006-01-02", r.Expires)
	if err != nil {
		return false
	}
	return !now.Before(t)
}

type Rules struct {
	Disabled   []string          `yaml:"disabled,omitempty"`
	Severities map[string]string `yaml:"severities,omitempty"`
	// Boundaries replaces the built-in off-by-one boundary catalog.
	Boundaries []rules.Boundary `yaml:"boundaries,omitempty"`
}

type Aggregation struct {
	Corroborate bool `yaml:"corroborate"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Cache struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

type History struct {
	Path string `yaml:"path,omitempty"`
}

type Config struct {
	SeverityThreshold string       `yaml:"severity_threshold"`
	MinSeverity       string       `yaml:"min_severity,omitempty"`
	IgnoreSeverities  []string     `yaml:"ignore_severities,omitempty"`
	Workers           int          `yaml:"workers"`
	TimeoutMs         int          `yaml:"timeout_ms"`
	Dialect           string       `yaml:"dialect,omitempty"`
	Exclude           []string     `yaml:"exclude,omitempty"`
	Baseline          string       `yaml:"baseline,omitempty"`
	Ignore            []IgnoreRule `yaml:"ignore,omitempty"`
	Rules             Rules        `yaml:"rules"`
	Aggregation       Aggregation  `yaml:"aggregation"`
	Logging           Logging      `yaml:"logging"`
	Cache             Cache        `yaml:"cache"`
	History           History      `yaml:"history"`
}

func Default() Config {
	return Config{
		SeverityThreshold: "medium",
		TimeoutMs:         30000,
		Exclude:           []string{"target", "node_modules", ".git", "tests/fixtures"},
		Aggregation:       Aggregation{Corroborate: true},
		Logging:           Logging{Level: "warn", Format: "text"},
		Cache:             Cache{Enabled: false},
	}
}

// Timeout is the scan deadline; zero disables it.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load searches upwards from startDir for .radar.yaml, decodes it over the
// defaults and applies RADAR_* environment overrides. The returned path is
// empty when no file was found.
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	path, err := find(startDir)
	if err != nil {
		return cfg, "", err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, path, err
		}
		if err := decode(b, &cfg); err != nil {
			return cfg, path, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, path, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// LoadFile reads an explicit config file instead of searching for one.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := decode(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		for _, name := range []string{FileName, ".radar.yml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached root
			return "", nil
		}
		dir = parent
	}
}

func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides file settings with RADAR_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("RADAR_SEVERITY_THRESHOLD"); ok && v != "" {
		cfg.SeverityThreshold = v
	}
	if v, ok := lookup("RADAR_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RADAR_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v, ok := lookup("RADAR_TIMEOUT_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RADAR_TIMEOUT_MS: %w", err)
		}
		cfg.TimeoutMs = n
	}
	if v, ok := lookup("RADAR_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup("RADAR_LOG_FORMAT"); ok && v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := lookup("RADAR_CACHE_DIR"); ok && v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Dir = v
	}
	if v, ok := lookup("RADAR_HISTORY"); ok && v != "" {
		cfg.History.Path = v
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if _, ok := model.LookupSeverity(c.SeverityThreshold); !ok {
		errs = append(errs, fmt.Errorf("severity_threshold: unknown severity %q", c.SeverityThreshold))
	}
	if c.MinSeverity != "" {
		if _, ok := model.LookupSeverity(c.MinSeverity); !ok {
			errs = append(errs, fmt.Errorf("min_severity: unknown severity %q", c.MinSeverity))
		}
	}
	for _, s := range c.IgnoreSeverities {
		if _, ok := model.LookupSeverity(s); !ok {
			errs = append(errs, fmt.Errorf("ignore_severities: unknown severity %q", s))
		}
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers: must not be negative"))
	}
	if c.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("timeout_ms: must not be negative"))
	}
	if c.Dialect != "" {
		if _, ok := model.ParseDialect(c.Dialect); !ok {
			errs = append(errs, fmt.Errorf("dialect: unknown dialect %q", c.Dialect))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: want text or json, got %q", c.Logging.Format))
	}
	for i, ig := range c.Ignore {
		if ig.Rule == "" {
			errs = append(errs, fmt.Errorf("ignore[%d]: rule is required (use \"*\" for all rules)", i))
		}
		if ig.Expires != "" {
			if _, err := time.Parse("2006-01-02", ig.Expires); err != nil {
				errs = append(errs, fmt.Errorf("ignore[%d].expires: %w", i, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RuleOptions converts the rules section into catalog settings.
func (c Config) RuleOptions() rules.Options {
	return rules.Options{
		Disabled:   c.Rules.Disabled,
		Severities: c.Rules.Severities,
		Boundaries: c.Rules.Boundaries,
	}
}

// Write stores cfg at path as YAML.
func Write(path string, cfg Config) error {
	var buf bytes.Buffer
	buf.WriteString("# radar configuration. See `radar rules list` for rule ids.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
