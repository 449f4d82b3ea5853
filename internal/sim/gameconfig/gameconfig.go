package gameconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"roadtest.ai/internal/model"
)

const (
	DefaultDogSpeed       = 1.0
	DefaultRetirementTime = 10.0 // seconds
)

// Config is the game server's config file. Servers ship it as JSON; YAML
// variants are accepted for hand-written fixtures.
type Config struct {
	DefaultDogSpeed      *float64    `json:"defaultDogSpeed" yaml:"defaultDogSpeed"`
	DogRetirementTime    *float64    `json:"dogRetirementTime" yaml:"dogRetirementTime"`
	RandomizeSpawnPoints bool        `json:"randomizeSpawnPoints" yaml:"randomizeSpawnPoints"`
	Maps                 []model.Map `json:"maps" yaml:"maps"`
}

func Load(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var c Config
	// Tab-indented JSON is not valid YAML, so real JSON takes the json path.
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &c); err != nil {
			return c, fmt.Errorf("game config: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("game config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("game config: %w", err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if len(c.Maps) == 0 {
		return fmt.Errorf("no maps")
	}
	seen := map[string]bool{}
	for i, m := range c.Maps {
		if m.ID == "" {
			return fmt.Errorf("maps[%d]: empty id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("maps[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if len(m.Roads) == 0 {
			return fmt.Errorf("map %s: no roads", m.ID)
		}
		for j, r := range m.Roads {
			if (r.X1 == nil) == (r.Y1 == nil) {
				return fmt.Errorf("map %s: roads[%d]: exactly one of x1/y1 required", m.ID, j)
			}
		}
		for j, b := range m.Buildings {
			if b.W <= 0 || b.H <= 0 {
				return fmt.Errorf("map %s: buildings[%d]: non-positive size", m.ID, j)
			}
		}
		if m.DogSpeed != nil && *m.DogSpeed < 0 {
			return fmt.Errorf("map %s: negative dogSpeed", m.ID)
		}
	}
	if c.DefaultDogSpeed != nil && *c.DefaultDogSpeed < 0 {
		return fmt.Errorf("negative defaultDogSpeed")
	}
	if c.DogRetirementTime != nil && *c.DogRetirementTime <= 0 {
		return fmt.Errorf("non-positive dogRetirementTime")
	}
	return nil
}

func (c Config) Map(id string) (model.Map, bool) {
	for _, m := range c.Maps {
		if m.ID == id {
			return m, true
		}
	}
	return model.Map{}, false
}

// Speed is the movement speed on a map: the map override, else the default.
func (c Config) Speed(m model.Map) float64 {
	if m.DogSpeed != nil {
		return *m.DogSpeed
	}
	if c.DefaultDogSpeed != nil {
		return *c.DefaultDogSpeed
	}
	return DefaultDogSpeed
}

// RetirementSeconds is the idle time after which a player is retired.
func (c Config) RetirementSeconds() float64 {
	if c.DogRetirementTime != nil {
		return *c.DogRetirementTime
	}
	return DefaultRetirementTime
}

func (c Config) RetirementTime() time.Duration {
	return time.Duration(c.RetirementSeconds() * float64(time.Second))
}
