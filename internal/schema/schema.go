// Package schema defines the intent registry: which intents exist, which
// slots each one requires (in prompt order), and how slot values are
// validated. The registry is loaded from YAML so deployments can adjust
// prompts and intents without a rebuild; an embedded default covers the
// standard Bafoka intent set.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed intents.yaml
var defaultIntentsYAML []byte

// SlotSpec describes one required slot of an intent.
type SlotSpec struct {
	Name   string            `yaml:"name"`
	Type   SlotType          `yaml:"type"`
	Prompt map[string]string `yaml:"prompt"`
}

// PromptFor returns the slot prompt in the given language, falling back to
// English.
func (s SlotSpec) PromptFor(lang string) string {
	if p, ok := s.Prompt[lang]; ok && p != "" {
		return p
	}
	return s.Prompt["en"]
}

// IntentSpec describes one executable banking intent.
type IntentSpec struct {
	Name     string            `yaml:"name"`
	Aliases  []string          `yaml:"aliases"`
	Endpoint string            `yaml:"endpoint"`
	Method   string            `yaml:"method"`
	Confirm  map[string]string `yaml:"confirm"`
	Success  map[string]string `yaml:"success"`
	Slots    []SlotSpec        `yaml:"slots"`
}

// SuccessMessage returns the post-dispatch success text in the given
// language, falling back to English.
func (in *IntentSpec) SuccessMessage(lang string) string {
	if msg, ok := in.Success[lang]; ok && msg != "" {
		return msg
	}
	return in.Success["en"]
}

// RequiredSlotNames returns the slot names in schema order.
func (in *IntentSpec) RequiredSlotNames() []string {
	names := make([]string, len(in.Slots))
	for i, s := range in.Slots {
		names[i] = s.Name
	}
	return names
}

// FirstMissing returns the first required slot (in schema order) absent from
// the filled set, or nil when the intent is fully slotted. First-missing-wins
// keeps prompting deterministic across turns.
func (in *IntentSpec) FirstMissing(filled map[string]domain.FilledSlot) *SlotSpec {
	for i := range in.Slots {
		if _, ok := filled[in.Slots[i].Name]; !ok {
			return &in.Slots[i]
		}
	}
	return nil
}

// Complete reports whether every required slot is filled.
func (in *IntentSpec) Complete(filled map[string]domain.FilledSlot) bool {
	return in.FirstMissing(filled) == nil
}

// ConfirmPrompt renders the confirmation template in the given language,
// substituting {slot} placeholders with filled values.
func (in *IntentSpec) ConfirmPrompt(lang string, filled map[string]domain.FilledSlot) string {
	tmpl, ok := in.Confirm[lang]
	if !ok || tmpl == "" {
		tmpl = in.Confirm["en"]
	}
	for name, slot := range filled {
		tmpl = strings.ReplaceAll(tmpl, "{"+name+"}", slot.Value)
	}
	return tmpl
}

// SlotByName returns the spec for a required slot, if the intent declares it.
func (in *IntentSpec) SlotByName(name string) (*SlotSpec, bool) {
	for i := range in.Slots {
		if in.Slots[i].Name == name {
			return &in.Slots[i], true
		}
	}
	return nil, false
}

type registryFile struct {
	Intents []IntentSpec `yaml:"intents"`
}

// Registry resolves intent names (canonical or alias, case-insensitive) to
// their specs. Immutable after Load.
type Registry struct {
	byName map[string]*IntentSpec
	names  []string
}

// Load reads an intent registry from the given YAML file, or from the
// embedded default when path is empty.
func Load(path string) (*Registry, error) {
	data := defaultIntentsYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read intent schema: %w", err)
		}
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse intent schema: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("intent schema declares no intents")
	}

	r := &Registry{byName: make(map[string]*IntentSpec)}
	for i := range file.Intents {
		spec := &file.Intents[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("intent schema entry %d has no name", i)
		}
		if spec.Method == "" {
			spec.Method = "POST"
		}
		key := strings.ToLower(spec.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate intent %q in schema", spec.Name)
		}
		r.byName[key] = spec
		r.names = append(r.names, spec.Name)
		for _, alias := range spec.Aliases {
			r.byName[strings.ToLower(alias)] = spec
		}
	}
	return r, nil
}

// Lookup resolves an intent name or alias to its spec.
func (r *Registry) Lookup(name string) (*IntentSpec, bool) {
	spec, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return spec, ok
}

// Names returns the canonical intent names in declaration order.
func (r *Registry) Names() []string {
	return r.names
}
