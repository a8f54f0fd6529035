package testutil

// FixedIDGenerator generates the same id every time, so debug traces of
// a lowering compare equal across runs.
//
// Stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id. If id is empty,
// Generate returns "test-lowering".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-lowering"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
