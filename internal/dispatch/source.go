package dispatch

import (
	"fmt"

	"github.com/life-research/fts-next-test-patient-uploader/internal/render"
)

// Source produces the request body for one entity.
type Source interface {
	Payload(id string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(id string) ([]byte, error)

// Payload calls f(id).
func (f SourceFunc) Payload(id string) ([]byte, error) {
	return f(id)
}

// BindFunc builds the placeholder bindings for one entity. It is called once
// per entity and must not reuse fresh tokens.
type BindFunc func(id string) (render.Bindings, error)

// TemplateSource renders a shared template per entity.
type TemplateSource struct {
	Template *render.Template
	Bind     BindFunc
}

// Payload renders the template with the bindings for id.
func (s TemplateSource) Payload(id string) ([]byte, error) {
	b, err := s.Bind(id)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", id, err)
	}
	return []byte(s.Template.Render(b)), nil
}
