package chronodb

import "github.com/brianvoe/gofakeit/v6"

// NewUserEntity returns a random user entity for tests and examples
func NewUserEntity() *Entity {
	return NewEntity(gofakeit.UUID(), map[string]any{
		"name": gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"age":      gofakeit.IntRange(18, 90),
		"language": gofakeit.Language(),
		"tags":     []any{gofakeit.BuzzWord(), gofakeit.BuzzWord()},
	})
}

// nopLogger discards everything; used by unit tests that exercise the
// internals without a store.
type nopLogger struct{}

func (nopLogger) Error(string, error, map[string]any) {}
func (nopLogger) Warn(string, map[string]any)         {}
func (nopLogger) Info(string, map[string]any)         {}
func (nopLogger) Debug(string, map[string]any)        {}
