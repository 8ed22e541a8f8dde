package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/citydata/tripline/internal/pipeline"
)

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type Source struct {
	BaseURL    string   `yaml:"base_url"`
	Categories []string `yaml:"categories"`
	DataDir    string   `yaml:"data_dir"`
	MaxRetries int      `yaml:"max_retries"`
}

type Warehouse struct {
	ConnectionString string `yaml:"connection_string"`
	Region           string `yaml:"region"`
}

type Staging struct {
	Enabled        bool   `yaml:"enabled"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type Pipeline struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
}

type Events struct {
	URI string `yaml:"uri"`
}

type Tripline struct {
	Global    Global    `yaml:"global"`
	Source    Source    `yaml:"source"`
	Warehouse Warehouse `yaml:"warehouse"`
	Staging   Staging   `yaml:"staging"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Events    Events    `yaml:"events"`
}

func NewTriplineFromFile(fpath string) (*Tripline, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var tripline Tripline
	if err := yaml.Unmarshal(bs, &tripline); err != nil {
		return nil, err
	}

	return &tripline, nil
}

// Validate checks the invariants the pipeline cannot run without.
func (t *Tripline) Validate() error {
	if t.Source.DataDir == "" {
		return pipeline.ConfigurationError("source.data_dir is required")
	}
	if t.Warehouse.ConnectionString == "" {
		return pipeline.ConfigurationError("warehouse.connection_string is required")
	}
	if t.Staging.Enabled && t.Staging.Bucket == "" {
		return pipeline.ConfigurationError("staging.bucket is required when staging is enabled")
	}
	if t.Pipeline.Workers < 0 {
		return pipeline.ConfigurationError("pipeline.workers must be >= 0")
	}
	return nil
}
