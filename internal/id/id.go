package id

import (
	"context"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	defaultLength = 12
	alphabet      = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxAttempts   = 5
)

// ErrExhausted is returned when no unused identifier was found.
var ErrExhausted = errors.New("id collision after 5 attempts")

// Generator produces unique, URL-safe identifiers.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. If length <= 0, a sane default is used.
func New(length int) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(alphabet, g.length)
}

// Valid reports whether s could have been produced by g.
func (g *Generator) Valid(s string) bool {
	if len(s) != g.length {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// Insert generates identifiers until insert reports that one was stored.
// insert returns false when the identifier is already taken.
func (g *Generator) Insert(ctx context.Context, insert func(id string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := g.Generate(ctx)
		if err != nil {
			return "", errors.Wrap(err, "generate id")
		}
		ok, err := insert(id)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", ErrExhausted
}
