package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is tried when no explicit config path is given.
const DefaultPath = "dupfinder.yaml"

// Config holds all configuration loaded from dupfinder.yaml.
type Config struct {
	DBPath       string   `yaml:"db_path"`
	ScanPaths    []string `yaml:"scan_paths"`
	ExcludePaths []string `yaml:"exclude_paths"`
	ExcludeNames []string `yaml:"exclude_names"`
	ExcludeExts  []string `yaml:"exclude_exts"`
	Algorithm    string   `yaml:"algorithm"`
	ChunkSize    int      `yaml:"chunk_size"`
	BatchSize    int      `yaml:"batch_size"`
	Workers      int      `yaml:"workers"`
	ReportPath   string   `yaml:"report_path"`
	HTTPAddr     string   `yaml:"http_addr"`
	Schedule     string   `yaml:"schedule"`
	LogLevel     string   `yaml:"log_level"`
	LogFile      string   `yaml:"log_file"`
}

// applyDefaults fills zero/empty fields with sensible defaults. Workers
// stays 0 on purpose: the scanner reads that as NumCPU. An explicitly
// empty exclude list (not absent, empty) is honored as-is.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "dupfinder.db"
	}
	if c.ExcludeNames == nil {
		c.ExcludeNames = []string{
			".git", ".svn", ".hg",
			"node_modules", "__pycache__",
			".Trash", "$RECYCLE.BIN", "System Volume Information",
		}
	}
	if c.Algorithm == "" {
		c.Algorithm = "sha256"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1 << 20
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.ReportPath == "" {
		c.ReportPath = "report.html"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8687"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads and parses the YAML config at path. An empty path falls
// back to DefaultPath in the working directory, and in that case a
// missing file yields the built-in defaults so the tool runs without
// any config. A missing explicit path is an error. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) && !explicit {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
