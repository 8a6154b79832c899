package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", 0, clockwork.NewFakeClock())

	raw, err := tokens.Mint("player-1", "Ana")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	id, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.PlayerID != "player-1" || id.Name != "Ana" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	clock := clockwork.NewFakeClock()
	raw, err := NewTokens("secret-a", 0, clock).Mint("player-1", "Ana")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	_, err = NewTokens("secret-b", 0, clock).Verify(raw)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tokens := NewTokens("test-secret", time.Hour, clock)

	raw, err := tokens.Mint("player-1", "Ana")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestFromHeader(t *testing.T) {
	tokens := NewTokens("test-secret", 0, clockwork.NewFakeClock())
	raw, err := tokens.Mint("player-1", "Ana")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := tokens.FromHeader("Bearer " + raw); err != nil {
		t.Fatalf("FromHeader: %v", err)
	}
	if _, err := tokens.FromHeader(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("bare token err = %v, want ErrInvalidToken", err)
	}
	if _, err := tokens.FromHeader(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty header err = %v, want ErrInvalidToken", err)
	}
}
