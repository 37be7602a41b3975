package memory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"gopkg.in/yaml.v3"
)

// templateFile is the YAML layout read by LoadFile. Component content is
// kept raw until its type is known. Flags that default to true are pointers
// so an absent key can be told apart from false.
type templateFile struct {
	Templates []struct {
		domain.FlowTemplate
		IsActive *bool `json:"is_active"`
		Steps    []struct {
			domain.StepTemplate
			RequiresPreviousStep *bool `json:"requires_previous_step"`
			Components           []struct {
				domain.ComponentTemplate
				Content json.RawMessage `json:"content"`
			} `json:"components"`
		} `json:"steps"`
	} `json:"templates"`
}

// ParseTemplates decodes flow templates from YAML. Missing IDs are
// generated and orders follow document position.
func ParseTemplates(data []byte) ([]*domain.FlowTemplate, error) {
	// yaml.v3 decodes mappings into map[string]any, so the document can be
	// re-encoded as JSON and decoded with the domain's JSON tags.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	var file templateFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	out := make([]*domain.FlowTemplate, 0, len(file.Templates))
	for i, ft := range file.Templates {
		tmpl := ft.FlowTemplate
		tmpl.ID = orNew(tmpl.ID)
		tmpl.IsActive = orTrue(ft.IsActive)
		if tmpl.Version == 0 {
			tmpl.Version = 1
		}
		tmpl.Steps = make([]domain.StepTemplate, 0, len(ft.Steps))
		for j, st := range ft.Steps {
			step := st.StepTemplate
			step.ID = orNew(step.ID)
			step.Order = j + 1
			step.RequiresPreviousStep = orTrue(st.RequiresPreviousStep)
			step.Components = make([]domain.ComponentTemplate, 0, len(st.Components))
			for k, ct := range st.Components {
				comp := ct.ComponentTemplate
				comp.ID = orNew(comp.ID)
				comp.Order = k + 1
				content, err := domain.DecodeContent(comp.Type, ct.Content)
				if err != nil {
					return nil, fmt.Errorf("template %d step %d component %d: %w", i+1, j+1, k+1, err)
				}
				comp.Content = content
				step.Components = append(step.Components, comp)
			}
			tmpl.Steps = append(tmpl.Steps, step)
		}
		out = append(out, &tmpl)
	}
	return out, nil
}

// LoadFile reads templates from a YAML file into the store and returns them.
func (s *TemplateStore) LoadFile(path string) ([]*domain.FlowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	templates, err := ParseTemplates(data)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if err := s.Save(t); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func orNew(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

func orTrue(b *bool) bool {
	return b == nil || *b
}
