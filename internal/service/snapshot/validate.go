package snapshot

import (
	"fmt"
	"strings"

	"github.com/phrazzld/learnflow/internal/domain"
)

// ValidateTemplate checks a template before anything is copied. It collects
// every violation instead of stopping at the first, plus warnings for
// structures that are legal but probably unintended.
func ValidateTemplate(t *domain.FlowTemplate) (violations, warnings []string) {
	if strings.TrimSpace(t.Title) == "" {
		violations = append(violations, "flow title must not be empty")
	}
	if !t.IsActive {
		violations = append(violations, "flow template is not active")
	}
	if len(t.Steps) == 0 {
		violations = append(violations, "flow must have at least one step")
	}

	for i, step := range t.Steps {
		label := stepLabel(i, step)
		if strings.TrimSpace(step.Title) == "" {
			violations = append(violations, label+": title must not be empty")
		}
		if step.MaxAttempts != nil && *step.MaxAttempts < 0 {
			violations = append(violations, label+": max attempts must not be negative")
		}

		required := 0
		for j, c := range step.Components {
			for _, v := range componentViolations(c) {
				violations = append(violations, fmt.Sprintf("%s: component %d: %s", label, j+1, v))
			}
			if c.IsRequired {
				required++
			}
		}

		switch {
		case len(step.Components) == 0:
			warnings = append(warnings, label+": has no components")
		case required == 0:
			warnings = append(warnings, label+": has no required components")
		}
	}
	return violations, warnings
}

func componentViolations(c domain.ComponentTemplate) []string {
	if !c.Type.IsValid() {
		return []string{fmt.Sprintf("unknown component type %q", c.Type)}
	}
	if c.Content == nil {
		return []string{fmt.Sprintf("%s content is missing", c.Type)}
	}
	if c.Content.Type() != c.Type {
		return []string{fmt.Sprintf("content is %s but component type is %s", c.Content.Type(), c.Type)}
	}
	out := c.Content.Violations()
	if c.MaxAttempts < 0 {
		out = append(out, "max attempts must not be negative")
	}
	return out
}

func stepLabel(i int, s domain.StepTemplate) string {
	if s.Title == "" {
		return fmt.Sprintf("step %d", i+1)
	}
	return fmt.Sprintf("step %d (%s)", i+1, s.Title)
}
