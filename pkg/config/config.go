// Package config holds the gateway's file-backed settings and the
// environment-backed secrets.
//
// Everything an operator can commit to version control lives in the JSON
// config file. Credential material never does; it arrives through the
// environment, see Secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IdentityConfig names the integration and the account user requests are
// made for.
type IdentityConfig struct {
	IntegrationKey string `json:"integrationKey"`
	UserID         string `json:"userId"`
	Authority      string `json:"authority"`
	Scope          string `json:"scope"`
}

// FileConfig represents the configuration stored in a file.
type FileConfig struct {
	Listen   string         `json:"listen"`
	Identity IdentityConfig `json:"identity"`

	// TokenEndpoint is the authority URL assertions are exchanged at.
	TokenEndpoint string `json:"tokenEndpoint"`

	// APIHost is the scheme and host API calls are sent to.
	APIHost string `json:"apiHost"`

	// APIBasePath is the base path used when the API root is known.
	APIBasePath string `json:"apiBasePath"`

	// CandidateBasePaths are probed in order when the API root is not
	// known for a deployment. Order is the operator's preference and
	// never changes at runtime.
	CandidateBasePaths []string `json:"candidateBasePaths"`

	RouteMemorySize            int `json:"routeMemorySize"`
	ProbeAttemptTimeoutSeconds int `json:"probeAttemptTimeoutSeconds"`
}

// DefaultFileConfig returns a default file configuration.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Listen: ":8080",
		Identity: IdentityConfig{
			Scope: "agreement_read agreement_write agreement_send",
		},
		APIBasePath:                "/api/rest/v6",
		CandidateBasePaths:         []string{"/api/rest/v6", "/api/rest/v5"},
		RouteMemorySize:            64,
		ProbeAttemptTimeoutSeconds: 10,
	}
}

// LoadFileConfig loads configuration from a file. An empty path yields the
// defaults.
func LoadFileConfig(configPath string) (*FileConfig, error) {
	if configPath == "" {
		return DefaultFileConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveFileConfig saves configuration to a file.
func SaveFileConfig(config *FileConfig, configPath string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports the first setting that would keep the gateway from
// serving.
func (c *FileConfig) Validate() error {
	switch {
	case c.Identity.IntegrationKey == "":
		return fmt.Errorf("identity.integrationKey is required")
	case c.Identity.UserID == "":
		return fmt.Errorf("identity.userId is required")
	case c.Identity.Authority == "":
		return fmt.Errorf("identity.authority is required")
	case c.TokenEndpoint == "":
		return fmt.Errorf("tokenEndpoint is required")
	case c.APIHost == "":
		return fmt.Errorf("apiHost is required")
	case len(c.CandidateBasePaths) == 0:
		return fmt.Errorf("candidateBasePaths must name at least one base path")
	}
	return nil
}

// ProbeAttemptTimeout returns the per-candidate bound as a duration, falling
// back to ten seconds when unset.
func (c *FileConfig) ProbeAttemptTimeout() time.Duration {
	if c.ProbeAttemptTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProbeAttemptTimeoutSeconds) * time.Second
}
