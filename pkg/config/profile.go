package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a packaged deployment profile. Fields left empty keep the
// environment-derived value.
type Profile struct {
	Name          string `yaml:"name"`
	SigningKeyID  string `yaml:"signing_key_id"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	LogLevel      string `yaml:"log_level"`
	AuditLogDays  int    `yaml:"audit_log_days"`
	EvidenceNotes string `yaml:"evidence_notes"`
}

// LoadProfile reads a YAML deployment profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("config: profile %s has no name", path)
	}
	return &p, nil
}

// Apply overlays the profile onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.SigningKeyID != "" {
		cfg.SigningKeyID = p.SigningKeyID
	}
	if p.DatabaseURL != "" {
		cfg.DatabaseURL = p.DatabaseURL
	}
	if p.RedisAddr != "" {
		cfg.RedisAddr = p.RedisAddr
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
}
