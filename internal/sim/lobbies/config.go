package lobbies

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"musicduel.ai/internal/sim/model"
)

var lobbyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,47}$`)

// ValidID reports whether id may name a lobby.
func ValidID(id string) bool { return lobbyIDPattern.MatchString(id) }

type Config struct {
	DefaultLobbyID string      `yaml:"default_lobby_id"`
	Lobbies        []LobbySpec `yaml:"lobbies"`
}

// LobbySpec carries the bias constants the planner blends into every clip.
type LobbySpec struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`

	TempoBase      int     `yaml:"tempo_base"`
	TempoSpread    int     `yaml:"tempo_spread"`
	IntensityBias  float64 `yaml:"intensity_bias"`
	IntensityMin   float64 `yaml:"intensity_min"`
	IntensityMax   float64 `yaml:"intensity_max"`
	DensityBias    float64 `yaml:"density_bias"`
	DistortionBias float64 `yaml:"distortion_bias"`
	FXBias         float64 `yaml:"fx_bias"`

	AgentA AgentSpec `yaml:"agent_a"`
	AgentB AgentSpec `yaml:"agent_b"`
}

type AgentSpec struct {
	Persona             string  `yaml:"persona"`
	Style               string  `yaml:"style"`
	Strategy            string  `yaml:"strategy"`
	Confidence          float64 `yaml:"confidence"`
	Intensity           float64 `yaml:"intensity"`
	Volatility          float64 `yaml:"volatility"`
	TempoPressure       float64 `yaml:"tempo_pressure"`
	MutationSensitivity float64 `yaml:"mutation_sensitivity"`
	Risk                float64 `yaml:"risk"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("lobbies.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("lobbies.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		DefaultLobbyID: "main",
		Lobbies: []LobbySpec{
			{
				ID:             "main",
				Title:          "Main Stage",
				TempoBase:      132,
				TempoSpread:    24,
				IntensityBias:  0.05,
				IntensityMin:   0.2,
				IntensityMax:   0.95,
				DensityBias:    0.0,
				DistortionBias: 0.1,
				FXBias:         0.0,
				AgentA: AgentSpec{
					Persona:             "Night Driver",
					Style:               "drift",
					Strategy:            string(model.StrategyAdaptive),
					Confidence:          0.55,
					Intensity:           0.6,
					Volatility:          0.35,
					TempoPressure:       0.4,
					MutationSensitivity: 0.5,
					Risk:                0.45,
				},
				AgentB: AgentSpec{
					Persona:             "Cowbell Reaper",
					Style:               "memphis",
					Strategy:            string(model.StrategyAggressive),
					Confidence:          0.55,
					Intensity:           0.7,
					Volatility:          0.45,
					TempoPressure:       0.55,
					MutationSensitivity: 0.4,
					Risk:                0.6,
				},
			},
		},
	}
}

func (c *Config) Normalize() {
	for i := range c.Lobbies {
		l := &c.Lobbies[i]
		l.ID = strings.TrimSpace(l.ID)
		if l.Title == "" {
			l.Title = l.ID
		}
		if l.TempoBase <= 0 {
			l.TempoBase = 132
		}
		if l.TempoSpread <= 0 {
			l.TempoSpread = 24
		}
		if l.IntensityMin == 0 && l.IntensityMax == 0 {
			l.IntensityMin, l.IntensityMax = 0.2, 0.95
		}
		normalizeAgent(&l.AgentA, "Agent A", "drift")
		normalizeAgent(&l.AgentB, "Agent B", "memphis")
	}
	if strings.TrimSpace(c.DefaultLobbyID) == "" && len(c.Lobbies) > 0 {
		c.DefaultLobbyID = c.Lobbies[0].ID
	}
}

func normalizeAgent(a *AgentSpec, persona, style string) {
	if strings.TrimSpace(a.Persona) == "" {
		a.Persona = persona
	}
	if !model.IsStyle(a.Style) {
		a.Style = style
	}
	a.Strategy = string(model.ParseStrategy(strings.ToUpper(strings.TrimSpace(a.Strategy))))
	if a.Confidence == 0 {
		a.Confidence = 0.5
	}
	if a.Intensity == 0 {
		a.Intensity = 0.6
	}
	if a.Volatility == 0 {
		a.Volatility = 0.3
	}
	if a.MutationSensitivity == 0 {
		a.MutationSensitivity = 0.5
	}
	if a.Risk == 0 {
		a.Risk = 0.4
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Lobbies) == 0 {
		return fmt.Errorf("lobbies must not be empty")
	}
	seen := map[string]bool{}
	for _, l := range c.Lobbies {
		if !ValidID(l.ID) {
			return fmt.Errorf("invalid lobby id %q", l.ID)
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate lobby id: %s", l.ID)
		}
		seen[l.ID] = true
		if l.IntensityMin < 0 || l.IntensityMax > 1 || l.IntensityMin >= l.IntensityMax {
			return fmt.Errorf("lobby %s intensity range must satisfy 0 <= min < max <= 1", l.ID)
		}
		for _, b := range []float64{l.IntensityBias, l.DensityBias, l.DistortionBias, l.FXBias} {
			if b < -0.5 || b > 0.5 {
				return fmt.Errorf("lobby %s bias constants must be within [-0.5, 0.5]", l.ID)
			}
		}
	}
	if !seen[c.DefaultLobbyID] {
		return fmt.Errorf("default_lobby_id %q not found in lobbies", c.DefaultLobbyID)
	}
	return nil
}

// Spec returns the configured spec for id, or the default lobby's spec re-labelled as id.
// ok is false when id is not a valid lobby id.
func (c Config) Spec(id string) (LobbySpec, bool) {
	if !ValidID(id) {
		return LobbySpec{}, false
	}
	var def LobbySpec
	for _, l := range c.Lobbies {
		if l.ID == id {
			return l, true
		}
		if l.ID == c.DefaultLobbyID {
			def = l
		}
	}
	def.ID = id
	def.Title = id
	return def, true
}

// Has reports whether id is a catalog lobby.
func (c Config) Has(id string) bool {
	for _, l := range c.Lobbies {
		if l.ID == id {
			return true
		}
	}
	return false
}

func (c Config) IDs() []string {
	out := make([]string, 0, len(c.Lobbies))
	for _, l := range c.Lobbies {
		out = append(out, l.ID)
	}
	sort.Strings(out)
	return out
}

// Agent returns the initial spec for side.
func (l LobbySpec) Agent(side model.Side) AgentSpec {
	if side == model.SideB {
		return l.AgentB
	}
	return l.AgentA
}
