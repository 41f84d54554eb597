package render

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Placeholder tokens recognized in consent templates.
const (
	PlaceholderPatientID             = "$PATIENT_ID"
	PlaceholderAuthored              = "$AUTHORED"
	PlaceholderQuestionnaireResponse = "$QUESTIONNAIRE_RESPONSE_UUID"
	PlaceholderResearchStudy         = "$RESEARCH_STUDY_UUID"
)

// Bindings maps a placeholder token to its replacement value.
type Bindings map[string]string

// Template is an immutable resource skeleton. Safe for concurrent use.
type Template struct {
	text string
}

// NewTemplate wraps template text.
func NewTemplate(text string) *Template {
	return &Template{text: text}
}

// LoadTemplate reads a template file. The template is read once per run and
// shared read-only by every upload task.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return NewTemplate(string(data)), nil
}

// Text returns the raw template text.
func (t *Template) Text() string {
	return t.text
}

// Render substitutes every bound placeholder in the template.
func (t *Template) Render(b Bindings) string {
	return Render(t.text, b)
}

// Render replaces all occurrences of each placeholder in b within text.
//
// Replacement happens in one left-to-right pass. At any position the longest
// matching placeholder wins, so "$ID" never shadows "$ID_EXT". Placeholders
// absent from b pass through untouched.
func Render(text string, b Bindings) string {
	if len(b) == 0 {
		return text
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, b[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
