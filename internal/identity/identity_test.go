package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

func TestContext_StartsAbsent(t *testing.T) {
	ctx := NewContext()
	if got := ctx.Current(); got != nil {
		t.Errorf("Current() = %+v, want nil", got)
	}
}

func TestContext_SetClear(t *testing.T) {
	ctx := NewContext()
	ctx.Set(Claims{IsProvider: true})

	got := ctx.Current()
	if got == nil || !got.IsProvider || got.IsUser || got.IsAdmin {
		t.Fatalf("Current() = %+v, want provider only", got)
	}

	// Mutating the returned copy must not leak back.
	got.IsAdmin = true
	if ctx.Current().IsAdmin {
		t.Error("Current() returned shared state")
	}

	ctx.Clear()
	if ctx.Current() != nil {
		t.Error("Current() after Clear should be nil")
	}
}

func TestContext_Subscribe(t *testing.T) {
	ctx := NewContext()
	ch, cancel := ctx.Subscribe()
	defer cancel()

	ctx.Set(Claims{IsUser: true})
	ctx.Set(Claims{IsAdmin: true})

	// Only the latest value is retained for a slow reader.
	select {
	case c := <-ch:
		if c == nil || !c.IsAdmin || c.IsUser {
			t.Errorf("got %+v, want admin only", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	ctx.Clear()
	select {
	case c := <-ch:
		if c != nil {
			t.Errorf("got %+v after Clear, want nil", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification after Clear")
	}
}

func TestContext_Unsubscribe(t *testing.T) {
	ctx := NewContext()
	ch, cancel := ctx.Subscribe()
	cancel()
	cancel() // idempotent

	ctx.Set(Claims{IsUser: true})
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestClaimsFromToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   Claims
	}{
		{"flags", jwt.MapClaims{"user": true, "admin": true, "exp": future}, Claims{IsUser: true, IsAdmin: true}},
		{"role name", jwt.MapClaims{"role": "Provider", "exp": future}, Claims{IsProvider: true}},
		{"no roles", jwt.MapClaims{"sub": "u1"}, Claims{}},
		{"unknown role", jwt.MapClaims{"role": "superuser"}, Claims{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClaimsFromToken(signed(t, tt.claims), now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClaimsFromToken_BearerPrefix(t *testing.T) {
	tok := signed(t, jwt.MapClaims{"user": true})
	got, err := ClaimsFromToken("Bearer "+tok, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsUser {
		t.Errorf("got %+v, want user", got)
	}
}

func TestClaimsFromToken_Errors(t *testing.T) {
	now := time.Now()
	expired := signed(t, jwt.MapClaims{"user": true, "exp": now.Add(-time.Minute).Unix()})

	if _, err := ClaimsFromToken("", now); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty token: err = %v, want ErrNoToken", err)
	}
	if _, err := ClaimsFromToken(expired, now); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token: err = %v, want ErrTokenExpired", err)
	}
	if _, err := ClaimsFromToken("not-a-jwt", now); err == nil {
		t.Error("garbage token: expected error")
	}
}

func TestRefresh_ClearsOnFailure(t *testing.T) {
	ctx := NewContextWith(Claims{IsAdmin: true})
	if err := Refresh(ctx, "garbage", time.Now()); err == nil {
		t.Fatal("expected error")
	}
	if ctx.Current() != nil {
		t.Error("claims should be cleared after a failed refresh")
	}

	if err := Refresh(ctx, signed(t, jwt.MapClaims{"user": true}), time.Now()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c := ctx.Current(); c == nil || !c.IsUser {
		t.Errorf("Current() = %+v, want user", c)
	}
}
