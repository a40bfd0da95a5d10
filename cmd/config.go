package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/attrsim/attrsim/sim"
	"github.com/attrsim/attrsim/sim/attrfunc"
)

// SimulationConfig is the YAML file read by `attrsim eval --config`.
type SimulationConfig struct {
	ContextBroker sim.ContextBrokerConfig `yaml:"contextBroker"`
	Domain        sim.DomainConfig        `yaml:"domain"`
	Token         string                  `yaml:"token,omitempty"`
	Seed          int64                   `yaml:"seed,omitempty"`
	StateDB       string                  `yaml:"stateDB,omitempty"`
	Attributes    []AttributeConfig       `yaml:"attributes"`
}

// AttributeConfig is one simulated attribute. Value holds either a textual
// interpolator spec, "kind(arguments)", or a constant. Interpolator is the
// structured alternative: a kind with its arguments as YAML.
type AttributeConfig struct {
	Entity       string      `yaml:"entity"`
	EntityType   string      `yaml:"entityType,omitempty"`
	Name         string      `yaml:"name"`
	Type         string      `yaml:"type,omitempty"`
	Value        string      `yaml:"value,omitempty"`
	Interpolator *SpecConfig `yaml:"interpolator,omitempty"`
}

// SpecConfig is a structured interpolator spec.
type SpecConfig struct {
	Kind string `yaml:"kind"`
	Args any    `yaml:"args"`
}

// LoadConfig reads a simulation config with strict YAML parsing: unknown
// keys are rejected.
func LoadConfig(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulation config: %w", err)
	}
	var cfg SimulationConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", sim.ErrSimulationConfigurationNotValid, path, err)
	}
	return &cfg, nil
}

// Spec returns the attribute's interpolator spec, or ok=false for a constant.
func (a AttributeConfig) Spec() (spec sim.Spec, ok bool, err error) {
	if a.Interpolator != nil {
		return sim.Spec{Kind: sim.Kind(a.Interpolator.Kind), Args: a.Interpolator.Args}, true, nil
	}
	if !looksLikeSpec(a.Value) {
		return sim.Spec{}, false, nil
	}
	spec, err = sim.ParseSpec(a.Value)
	if err != nil {
		return sim.Spec{}, false, err
	}
	return spec, true, nil
}

// looksLikeSpec reports whether v names an interpolator, as opposed to a
// constant that merely contains parentheses.
func looksLikeSpec(v string) bool {
	head, _, found := strings.Cut(strings.TrimSpace(v), "(")
	return found && strings.HasSuffix(head, "-interpolator")
}

// Key identifies the attribute within the simulation.
func (a AttributeConfig) Key() string {
	if a.EntityType == "" {
		return a.Entity + "." + a.Name
	}
	return a.Entity + attrfunc.TypeSeparator + a.EntityType + "." + a.Name
}

// Validate checks the config and every attribute spec's kind. Spec
// arguments are checked when the interpolators are built.
func (c *SimulationConfig) Validate() error {
	if len(c.Attributes) == 0 {
		return fmt.Errorf("%w: no attributes to simulate", sim.ErrSimulationConfigurationNotValid)
	}
	seen := make(map[string]bool, len(c.Attributes))
	needsToken := false
	for i, a := range c.Attributes {
		if a.Entity == "" || a.Name == "" {
			return fmt.Errorf("%w: attribute %d needs an entity and a name", sim.ErrSimulationConfigurationNotValid, i)
		}
		if seen[a.Key()] {
			return fmt.Errorf("%w: attribute %s is declared twice", sim.ErrSimulationConfigurationNotValid, a.Key())
		}
		seen[a.Key()] = true
		if a.Interpolator != nil && a.Value != "" {
			return fmt.Errorf("%w: attribute %s sets both value and interpolator", sim.ErrSimulationConfigurationNotValid, a.Key())
		}
		spec, ok, err := a.Spec()
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Key(), err)
		}
		if ok && !spec.Kind.Valid() {
			return fmt.Errorf("attribute %s: %w", a.Key(), sim.InvalidSpec(spec.Kind, "", "unknown interpolator kind"))
		}
		if spec.Kind == sim.KindAttributeFunction {
			needsToken = true
		}
	}
	if needsToken && c.Token == "" {
		return fmt.Errorf("%w: attribute-function attributes query the context broker", sim.ErrTokenNotAvailable)
	}
	return nil
}
