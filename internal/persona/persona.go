// Package persona loads and validates persona profiles. Profiles are read
// once at startup into an immutable store; hot reload means building a new
// store and swapping the reference, never mutating profiles in place.
package persona

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ToneWeights are the persona's tone dimensions, each in [0, 1].
type ToneWeights struct {
	Meme        float64 `yaml:"meme"`
	Serious     float64 `yaml:"serious"`
	Educational float64 `yaml:"educational"`
}

// Profile describes one posting persona.
type Profile struct {
	Key              string      `yaml:"key"`
	Name             string      `yaml:"name"`
	Handle           string      `yaml:"handle"`
	Bio              string      `yaml:"bio"`
	Role             string      `yaml:"role"`
	Tone             ToneWeights `yaml:"tone"`
	ForbiddenPhrases []string    `yaml:"forbidden_phrases"`
	Stance           []string    `yaml:"stance"`
	HotTakes         []string    `yaml:"hot_takes"`
	Examples         []string    `yaml:"examples"`
	MaxPostLength    int         `yaml:"max_post_length"`
	MaxThreadParts   int         `yaml:"max_thread_parts"`
	RequireCTA       bool        `yaml:"require_cta"`
}

type configFile struct {
	Version  int                 `yaml:"version"`
	Personas map[string]*Profile `yaml:"personas"`
}

// Store is a read-only set of persona profiles.
type Store struct {
	personas map[string]*Profile
	keys     []string
}

// LoadStore reads and validates the persona YAML file.
func LoadStore(path string) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open persona config: %w", err)
	}
	defer file.Close()

	cfg := &configFile{}
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode persona config: %w", err)
	}

	if len(cfg.Personas) == 0 {
		return nil, fmt.Errorf("persona config %s defines no personas", path)
	}

	keys := make([]string, 0, len(cfg.Personas))
	for key, p := range cfg.Personas {
		if p == nil {
			return nil, fmt.Errorf("persona %q is empty", key)
		}
		p.Key = key
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("persona %q: %w", key, err)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Store{personas: cfg.Personas, keys: keys}, nil
}

// Get returns the profile for key.
func (s *Store) Get(key string) (*Profile, error) {
	p, ok := s.personas[key]
	if !ok {
		return nil, fmt.Errorf("persona %q not found", key)
	}
	return p, nil
}

// Keys returns all persona keys in stable order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func validate(p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}

	weights := map[string]float64{
		"meme":        p.Tone.Meme,
		"serious":     p.Tone.Serious,
		"educational": p.Tone.Educational,
	}
	for dim, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("tone weight %s=%g outside [0,1]", dim, w)
		}
	}

	if p.MaxPostLength == 0 {
		p.MaxPostLength = 280
	}
	if p.MaxPostLength < 0 {
		return fmt.Errorf("max_post_length must be positive")
	}
	if p.MaxThreadParts == 0 {
		p.MaxThreadParts = 5
	}
	if p.MaxThreadParts < 0 {
		return fmt.Errorf("max_thread_parts must be positive")
	}
	return nil
}
