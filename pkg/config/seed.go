package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile describes local-development bootstrap data: enough agents,
// credentials, and policy rules to make the first admin/agent API call
// without a chicken-and-egg "no admin key yet" problem.
type SeedFile struct {
	Admins []SeedAdmin `yaml:"admins"`
	Agents []SeedAgent `yaml:"agents"`
}

type SeedAdmin struct {
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
	Team        string `yaml:"team"`
	APIKey      string `yaml:"api_key"`
}

type SeedAgent struct {
	DisplayName string     `yaml:"display_name"`
	OwnerTeam   string     `yaml:"owner_team"`
	Environment string     `yaml:"environment"`
	APIKey      string     `yaml:"api_key"`
	Allow       []SeedRule `yaml:"allow,omitempty"`
	Deny        []SeedRule `yaml:"deny,omitempty"`
	Approval    []SeedRule `yaml:"require_approval,omitempty"`
}

type SeedRule struct {
	Action   string `yaml:"action"`
	Resource string `yaml:"resource,omitempty"`
}

// LoadSeedFile parses a YAML bootstrap fixture named by the SEED_FILE
// environment variable. An empty path is not an error: seeding is optional.
func LoadSeedFile(path string) (*SeedFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read seed file %q: %w", path, err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("config: parse seed file %q: %w", path, err)
	}
	return &seed, nil
}
