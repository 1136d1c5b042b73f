// Package accountid draws the public 10-digit account identifiers.
package accountid

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

const (
	// Min and Max bound the keyspace so every identifier has exactly 10 digits
	Min int64 = 1_000_000_000
	Max int64 = 9_999_999_999
	// Length is the number of digits in an identifier
	Length = 10
)

// ExistsFunc reports whether an identifier is already assigned
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// Generator produces account identifiers
type Generator struct {
	// Draw returns a candidate in [Min, Max]; nil uses crypto/rand
	Draw func() (int64, error)
}

// New creates a generator backed by crypto/rand
func New() *Generator {
	return &Generator{}
}

// Next returns one random identifier without checking for collisions
func (g *Generator) Next() (string, error) {
	draw := g.Draw
	if draw == nil {
		draw = randomInRange
	}
	n, err := draw()
	if err != nil {
		return "", fmt.Errorf("failed to draw account id: %w", err)
	}
	if n < Min || n > Max {
		return "", fmt.Errorf("account id %d out of range", n)
	}
	return strconv.FormatInt(n, 10), nil
}

// GenerateUnique draws identifiers until exists reports a free one. The
// caller must hold whatever lock makes the check-then-assign atomic.
func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id, err := g.Next()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to check account id: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
}

// Valid reports whether s has the shape of an account identifier
func Valid(s string) bool {
	if len(s) != Length || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func randomInRange() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(Max-Min+1))
	if err != nil {
		return 0, err
	}
	return Min + n.Int64(), nil
}
