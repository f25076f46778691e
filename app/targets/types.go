package targets

import (
	"github.com/lysyi3m/gh-harvest/app/harvest"
)

type Config struct {
	Kind         harvest.Kind         // Derived from filename (without .yml extension)
	Settings     ConfigSettings       `yaml:"settings"`
	Filter       harvest.FilterConfig `yaml:"filter"`
	Technologies []ConfigTechnology   `yaml:"technologies"`
}

type ConfigSettings struct {
	Enabled  bool   `yaml:"enabled"`
	PerPage  int    `yaml:"per_page"`
	MaxPages int    `yaml:"max_pages"`
	MaxItems int    `yaml:"max_items"` // raw items per target, 0 means unlimited
	Since    string `yaml:"since"`     // listing lower bound, YYYY-MM-DD
}

// ConfigTechnology groups the repositories (or Stack Overflow tags) harvested
// for one technology.
type ConfigTechnology struct {
	Name    string   `yaml:"name"`
	Targets []string `yaml:"targets"`
}
