package generation

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalogue []byte

// ModelSpec is one entry of the model catalogue. Input holds the fixed
// provider inputs sent alongside the prompt.
type ModelSpec struct {
	Name  string         `yaml:"name"`
	Label string         `yaml:"label"`
	Input map[string]any `yaml:"input"`
}

// Catalogue lists the models the server may use.
type Catalogue struct {
	Default string      `yaml:"default"`
	Models  []ModelSpec `yaml:"models"`
}

// DefaultCatalogue returns the built-in catalogue.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultCatalogue)
}

// LoadCatalogue reads a catalogue file. An empty path means the built-in one.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalogue: %w", err)
	}
	return ParseCatalogue(raw)
}

func ParseCatalogue(raw []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse model catalogue: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalogue) validate() error {
	if len(c.Models) == 0 {
		return errors.New("model catalogue is empty")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if owner, name, ok := strings.Cut(m.Name, "/"); !ok || owner == "" || name == "" {
			return fmt.Errorf("model %q: name must be owner/name", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("model %q listed twice", m.Name)
		}
		seen[m.Name] = true
	}
	if c.Default == "" {
		c.Default = c.Models[0].Name
	}
	if !seen[c.Default] {
		return fmt.Errorf("default model %q is not in the catalogue", c.Default)
	}
	return nil
}

// Lookup returns the model entry for name.
func (c *Catalogue) Lookup(name string) (ModelSpec, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Names returns the model names in catalogue order.
func (c *Catalogue) Names() []string {
	out := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, m.Name)
	}
	return out
}

// InputFor builds the provider input for prompt on model.
func (c *Catalogue) InputFor(model, prompt string) (map[string]any, error) {
	spec, ok := c.Lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	input := make(map[string]any, len(spec.Input)+1)
	maps.Copy(input, spec.Input)
	input["prompt"] = prompt
	return input, nil
}
