package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptOverrides carries operator-supplied system prompts seeded into the
// prompt store at startup. All fields are optional; empty values keep the
// stored defaults.
type PromptOverrides struct {
	SystemPrompt      string `yaml:"system_prompt"`
	RAGPromptTemplate string `yaml:"rag_prompt_template"`
	TitlePrompt       string `yaml:"title_prompt"`
}

// LoadPromptOverrides reads a YAML prompt file. A missing path returns zero
// overrides without error so the file stays optional.
func LoadPromptOverrides(path string) (PromptOverrides, error) {
	var po PromptOverrides
	if path == "" {
		return po, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return po, nil
		}
		return po, fmt.Errorf("op=config.LoadPromptOverrides: %w", err)
	}
	if err := yaml.Unmarshal(b, &po); err != nil {
		return po, fmt.Errorf("op=config.LoadPromptOverrides: parse: %w", err)
	}
	return po, nil
}
