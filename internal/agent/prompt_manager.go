package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names.
const (
	PromptRouter      = "router"
	PromptPlanner     = "planner"
	PromptQuerySystem = "query_system"
	PromptQueryStep   = "query_step"
	PromptCorrection  = "correction"
	PromptSynthesis   = "synthesis"
)

var promptNames = []string{
	PromptRouter,
	PromptPlanner,
	PromptQuerySystem,
	PromptQueryStep,
	PromptCorrection,
	PromptSynthesis,
}

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptManager renders the engine's prompt templates. The embedded
// defaults can be overridden per prompt from a YAML file.
type PromptManager struct {
	templates map[string]*template.Template
}

var promptFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// NewPromptManager loads the defaults and, when path is non-empty, the
// prompts defined in that file on top of them.
func NewPromptManager(path string) (*PromptManager, error) {
	sources := make(map[string]string)
	if err := yaml.Unmarshal(defaultPrompts, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse default prompts: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		overrides := make(map[string]string)
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
		}
		for name, text := range overrides {
			if _, ok := sources[name]; !ok {
				return nil, fmt.Errorf("unknown prompt %q in %s", name, path)
			}
			if strings.TrimSpace(text) != "" {
				sources[name] = text
			}
		}
	}

	pm := &PromptManager{templates: make(map[string]*template.Template)}
	for _, name := range promptNames {
		src, ok := sources[name]
		if !ok {
			return nil, fmt.Errorf("missing prompt %q", name)
		}
		t, err := template.New(name).Funcs(promptFuncs).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt %q: %w", name, err)
		}
		pm.templates[name] = t
	}
	return pm, nil
}

// Render executes the named prompt with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	t, ok := pm.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

type routerData struct {
	Question string
	History  string
}

type plannerData struct {
	Question string
	History  string
	Schema   string
}

type querySystemData struct {
	TableName string
	Schema    string
}

type queryStepData struct {
	Instruction     string
	PreviousResults string
}

type correctionData struct {
	Instruction     string
	PreviousQuery   string
	Error           string
	PreviousResults string
	TableName       string
	Schema          string
}

type synthesisData struct {
	Question string
	Plan     []string
	Results  []string
	Chart    string
}
