package seed

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yml
var builtinPresets []byte

// Preset sizes a seeding run.
type Preset struct {
	Users            int     `yaml:"users"`
	PollsPerUser     int     `yaml:"polls_per_user"`
	OptionsPerPoll   int     `yaml:"options_per_poll"`
	VotesPerPoll     int     `yaml:"votes_per_poll"`
	AnonymousRatio   float64 `yaml:"anonymous_ratio"`
	CommentsPerPoll  int     `yaml:"comments_per_poll"`
	ReactionsPerPoll int     `yaml:"reactions_per_poll"`
	ExpiredRatio     float64 `yaml:"expired_ratio"`
	AllowChangeRatio float64 `yaml:"allow_change_ratio"`
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Validate rejects presets that cannot produce valid polls.
func (p Preset) Validate() error {
	switch {
	case p.Users < 1:
		return fmt.Errorf("users must be at least 1")
	case p.OptionsPerPoll < 2 || p.OptionsPerPoll > 20:
		return fmt.Errorf("options_per_poll must be between 2 and 20")
	case p.PollsPerUser < 0 || p.VotesPerPoll < 0 || p.CommentsPerPoll < 0 || p.ReactionsPerPoll < 0:
		return fmt.Errorf("counts must not be negative")
	}
	for name, ratio := range map[string]float64{
		"anonymous_ratio":    p.AnonymousRatio,
		"expired_ratio":      p.ExpiredRatio,
		"allow_change_ratio": p.AllowChangeRatio,
	} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	return nil
}

// ParsePresets decodes a presets document.
func ParsePresets(raw []byte) (map[string]Preset, error) {
	var doc presetFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if len(doc.Presets) == 0 {
		return nil, fmt.Errorf("parse presets: no presets defined")
	}
	for name, p := range doc.Presets {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return doc.Presets, nil
}

// LoadPresets reads presets from path, or the built-in set when path is empty.
func LoadPresets(path string) (map[string]Preset, error) {
	if path == "" {
		return ParsePresets(builtinPresets)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(raw)
}

// Names lists preset names in order.
func Names(presets map[string]Preset) []string {
	names := lo.Keys(presets)
	sort.Strings(names)
	return names
}
