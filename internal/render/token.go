package render

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints unique identifiers for fresh placeholders.
type TokenGenerator interface {
	Generate() string
}

// UUIDGenerator produces random (version 4) UUIDs. Stateless and safe for
// concurrent use.
type UUIDGenerator struct{}

// Generate returns a new hyphenated UUIDv4 string.
//
// Panics if the system random source fails.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// SequenceGenerator returns predetermined tokens in order. Used by tests that
// compare rendered payloads against golden files.
type SequenceGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewSequenceGenerator creates a generator that hands out tokens in order.
func NewSequenceGenerator(tokens ...string) *SequenceGenerator {
	return &SequenceGenerator{tokens: tokens}
}

// Generate returns the next token.
//
// Panics once all tokens are consumed; a test that renders more payloads than
// it prepared tokens for is misconfigured.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("SequenceGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// ConsentBindings builds the bindings for one consent form. Both fresh
// placeholders get a new token from gen on every call.
func ConsentBindings(gen TokenGenerator, patientID, authored string) Bindings {
	return Bindings{
		PlaceholderPatientID:             patientID,
		PlaceholderAuthored:              authored,
		PlaceholderQuestionnaireResponse: gen.Generate(),
		PlaceholderResearchStudy:         gen.Generate(),
	}
}
