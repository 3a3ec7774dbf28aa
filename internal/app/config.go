package app

import (
	"errors"
	"fmt"
	"slices"
)

// Formats lists the accepted result formats.
var Formats = []string{"text", "json", "yaml"}

// LogFormats lists the accepted log formats. "auto" picks text on a terminal
// and json otherwise.
var LogFormats = []string{"auto", "text", "json"}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModelPath string // hcl file or directory
	ModelName string // root model; may be empty when the files have a single root

	Values        map[string][]float64
	Of            []string
	Wrt           []string
	CheckPartials bool
	CasesPath     string // yaml

	Format      string
	LogFormat   string
	LogLevel    string
	WorkerCount int
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("ModelPath is a required configuration field and cannot be empty")
	}
	if (len(cfg.Of) == 0) != (len(cfg.Wrt) == 0) {
		return nil, errors.New("totals need both 'of' and 'wrt' variables")
	}

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if !slices.Contains(Formats, cfg.Format) {
		return nil, fmt.Errorf("unknown format '%s'", cfg.Format)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
	if !slices.Contains(LogFormats, cfg.LogFormat) {
		return nil, fmt.Errorf("unknown log format '%s'", cfg.LogFormat)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &cfg, nil
}
