package roomcode

import (
	"context"
	"fmt"
	"math/rand"
)

// words is the themed catalog room codes are drawn from. Every word is
// short enough that word + two digits stays human-shareable.
var words = []string{
	"AMBER",
	"BREEZE",
	"CANDLE",
	"DUNE",
	"EMBER",
	"FABLE",
	"GROVE",
	"HARBOR",
	"IVORY",
	"JUNIPER",
	"KINDLE",
	"LANTERN",
	"MAPLE",
	"NECTAR",
	"OPAL",
	"PEBBLE",
	"QUILL",
	"RIVER",
	"SAFFRON",
	"TIDE",
	"UMBER",
	"VELVET",
	"WILLOW",
	"ZEPHYR",
}

const maxAttempts = 10

// Exists reports whether a room code is already taken.
type Exists func(ctx context.Context, code string) (bool, error)

// Generator produces collision-checked room codes.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator from the given source of randomness.
func New(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Generate returns a word-plus-two-digit code that the exists check does
// not know about, retrying a bounded number of times on collision.
func (g *Generator) Generate(ctx context.Context, exists Exists) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := fmt.Sprintf("%s%02d", words[g.rng.Intn(len(words))], g.rng.Intn(100))
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check room code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxAttempts)
}
