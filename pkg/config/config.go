// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fileforge/fileforge/pkg/projects"
)

// Config is the complete engine configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Limits    LimitsConfig    `yaml:"limits"`
	Engine    EngineConfig    `yaml:"engine"`
	Projects  ProjectsConfig  `yaml:"projects"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LimitsConfig bounds workbook residency.
type LimitsConfig struct {
	MaxWorkbooks     int    `yaml:"max_workbooks"`
	MaxResidentBytes string `yaml:"max_resident_bytes"`
}

// EngineConfig holds engine settings. They are loaded and merged like
// the rest of the configuration; the store and the importers do not
// read them.
type EngineConfig struct {
	Threads int    `yaml:"threads"`
	TempDir string `yaml:"temp_dir"`
}

// ProjectsConfig selects where project manifests persist.
type ProjectsConfig struct {
	Backend string               `yaml:"backend"` // file, redis, s3
	Dir     string               `yaml:"dir"`
	Redis   projects.RedisConfig `yaml:"redis"`
	S3      projects.S3Config    `yaml:"s3"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sampling float64 `yaml:"sampling"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Limits: LimitsConfig{
			MaxWorkbooks:     4,
			MaxResidentBytes: "256MB",
		},
		Engine: EngineConfig{
			Threads: 0,
			TempDir: filepath.Join(os.TempDir(), "fileforge"),
		},
		Projects: ProjectsConfig{
			Backend: "file",
			Dir:     filepath.Join(home, ".fileforge", "projects"),
			Redis:   projects.DefaultRedisConfig("localhost:6379"),
			S3:      projects.DefaultS3Config(""),
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Sampling: 1.0,
		},
	}
}

// MaxResidentBytes parses the configured byte limit, falling back to
// 256 MiB when the value is absent or malformed.
func (c *Config) MaxResidentBytes() int64 {
	n, err := ParseBytes(c.Limits.MaxResidentBytes)
	if err != nil || n <= 0 {
		return 256 << 20
	}
	return n
}

// ParseBytes converts a human-readable size like "256MB" or "1GiB"
// into a byte count. A bare number is taken as bytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	upper := strings.ToUpper(s)
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"TIB", 1 << 40}, {"TB", 1 << 40},
		{"GIB", 1 << 30}, {"GB", 1 << 30},
		{"MIB", 1 << 20}, {"MB", 1 << 20},
		{"KIB", 1 << 10}, {"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, u.suffix) {
			upper = strings.TrimSuffix(upper, u.suffix)
			mult = u.mult
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(upper), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(f * float64(mult)), nil
}

// Manager loads and merges configuration layers.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager returns a manager seeded with defaults.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load merges system, user, and project config files over the
// defaults, then applies environment overrides.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range configPaths() {
		if err := m.loadFile(path); err != nil {
			return err
		}
	}
	m.loadEnv()
	return nil
}

func configPaths() []string {
	paths := []string{"/etc/fileforge/config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".fileforge", "config.yaml"))
	}
	paths = append(paths, ".fileforge.yaml")
	return paths
}

func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	m.merge(&overlay)
	m.paths = append(m.paths, path)
	return nil
}

// merge copies non-zero fields of the overlay into the active config.
func (m *Manager) merge(o *Config) {
	c := m.config
	if o.Version != "" {
		c.Version = o.Version
	}
	if o.Limits.MaxWorkbooks != 0 {
		c.Limits.MaxWorkbooks = o.Limits.MaxWorkbooks
	}
	if o.Limits.MaxResidentBytes != "" {
		c.Limits.MaxResidentBytes = o.Limits.MaxResidentBytes
	}
	if o.Engine.Threads != 0 {
		c.Engine.Threads = o.Engine.Threads
	}
	if o.Engine.TempDir != "" {
		c.Engine.TempDir = o.Engine.TempDir
	}
	if o.Projects.Backend != "" {
		c.Projects.Backend = o.Projects.Backend
	}
	if o.Projects.Dir != "" {
		c.Projects.Dir = o.Projects.Dir
	}
	if o.Projects.Redis.Address != "" {
		c.Projects.Redis.Address = o.Projects.Redis.Address
	}
	if o.Projects.S3.Bucket != "" {
		c.Projects.S3.Bucket = o.Projects.S3.Bucket
	}
	if o.Projects.S3.Region != "" {
		c.Projects.S3.Region = o.Projects.S3.Region
	}
	if o.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	if o.Telemetry.Endpoint != "" {
		c.Telemetry.Endpoint = o.Telemetry.Endpoint
	}
	if o.Telemetry.Sampling != 0 {
		c.Telemetry.Sampling = o.Telemetry.Sampling
	}
}

func (m *Manager) loadEnv() {
	c := m.config
	if v := os.Getenv("FILEFORGE_MAX_WORKBOOKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Limits.MaxWorkbooks = n
		}
	}
	if v := os.Getenv("FILEFORGE_MAX_RESIDENT_BYTES"); v != "" {
		c.Limits.MaxResidentBytes = v
	}
	if v := os.Getenv("FILEFORGE_TEMP_DIR"); v != "" {
		c.Engine.TempDir = v
	}
	if v := os.Getenv("FILEFORGE_REDIS"); v != "" {
		c.Projects.Backend = "redis"
		c.Projects.Redis.Address = v
	}
	if v := os.Getenv("FILEFORGE_S3_BUCKET"); v != "" {
		c.Projects.Backend = "s3"
		c.Projects.S3.Bucket = v
	}
	if v := os.Getenv("FILEFORGE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}

// Get returns a copy of the active configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetPaths lists the config files that were merged, in order.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Save writes the active configuration to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home dir: %w", err)
	}
	dir := filepath.Join(home, ".fileforge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

var (
	globalOnce    sync.Once
	globalManager *Manager
)

// Global returns the shared manager, loading it on first use.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		_ = globalManager.Load()
	})
	return globalManager
}
