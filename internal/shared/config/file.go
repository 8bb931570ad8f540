package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML overlay named by CONFIG_FILE. Secrets are read from
// the environment only.
type FileConfig struct {
	Env               string `yaml:"env"`
	Port              string `yaml:"port"`
	DatabaseURL       string `yaml:"database_url"`
	RedisURL          string `yaml:"redis_url"`
	MaxUploadAttempts int    `yaml:"max_upload_attempts"`
	ExtractionMode    string `yaml:"extraction_mode"`

	ObjectStore struct {
		Type     string `yaml:"type"`
		LocalDir string `yaml:"local_dir"`
		Region   string `yaml:"region"`
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Endpoint string `yaml:"endpoint"`
		KMSKeyID string `yaml:"kms_key_id"`
	} `yaml:"object_store"`

	LLM struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		ProjectID string `yaml:"project_id"`
		Region    string `yaml:"region"`
	} `yaml:"llm"`

	Notify struct {
		Type     string `yaml:"type"`
		QueueURL string `yaml:"queue_url"`
	} `yaml:"notify"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// LoadFile reads and parses a YAML overlay.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
