package config

import (
	"fmt"
	"os"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"gopkg.in/yaml.v3"
)

// CampaignSeed is one campaign from the seed file
type CampaignSeed struct {
	ID     string              `yaml:"id"`
	Paused bool                `yaml:"paused"`
	Pacing types.PacingConfig  `yaml:"pacing"`
	Leads  []types.HopperEntry `yaml:"leads"`
}

// UnmarshalYAML starts from the default pacing config so omitted fields keep their defaults
func (c *CampaignSeed) UnmarshalYAML(value *yaml.Node) error {
	type plain CampaignSeed
	p := plain{Pacing: types.DefaultPacingConfig()}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = CampaignSeed(p)
	return nil
}

type campaignFile struct {
	Campaigns []CampaignSeed `yaml:"campaigns"`
}

// LoadCampaigns reads and validates a YAML campaign seed file
func LoadCampaigns(path string) ([]CampaignSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaigns file: %w", err)
	}
	return ParseCampaigns(data)
}

// ParseCampaigns decodes seed YAML. Missing pacing fields take the defaults.
func ParseCampaigns(data []byte) ([]CampaignSeed, error) {
	var file campaignFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse campaigns file: %w", err)
	}

	seen := make(map[string]bool, len(file.Campaigns))
	for i := range file.Campaigns {
		c := &file.Campaigns[i]
		if c.ID == "" {
			return nil, fmt.Errorf("campaign %d: missing id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("campaign %s: duplicate id", c.ID)
		}
		seen[c.ID] = true

		c.Pacing = c.Pacing.WithDefaults()
		if err := c.Pacing.Validate(); err != nil {
			return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
		}
		for j := range c.Leads {
			c.Leads[j].CampaignID = c.ID
		}
	}
	return file.Campaigns, nil
}
