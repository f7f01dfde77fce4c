package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connectmytask/taskui/internal/config"
	"github.com/connectmytask/taskui/internal/identity"
)

// storedCredentials caches the session token and writes changes through to
// the platform secret store.
type storedCredentials struct {
	mu     sync.Mutex
	token  string
	set    func(string) error
	delete func() error
}

func newStoredCredentials(token string) *storedCredentials {
	return &storedCredentials{token: token, set: config.SetToken, delete: config.DeleteToken}
}

func (c *storedCredentials) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", fmt.Errorf("not signed in: %s", config.TokenHint())
	}
	return c.token, nil
}

func (c *storedCredentials) SetToken(token string) error {
	if err := c.set(token); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *storedCredentials) DeleteToken() error {
	if err := c.delete(); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// refreshIdentity re-derives the viewer's claims from the stored token, so
// an expired token stops granting access without a restart. The context is
// only touched when the claims actually change.
func refreshIdentity(ident *identity.Context, creds *storedCredentials, now time.Time) error {
	tok, err := creds.Token()
	if err != nil {
		clearIfSet(ident)
		return nil
	}
	c, err := identity.ClaimsFromToken(tok, now)
	if err != nil {
		clearIfSet(ident)
		if errors.Is(err, identity.ErrTokenExpired) {
			return err
		}
		return fmt.Errorf("decoding stored token: %w", err)
	}
	if cur := ident.Current(); cur == nil || *cur != c {
		ident.Set(c)
	}
	return nil
}

func clearIfSet(ident *identity.Context) {
	if ident.Current() != nil {
		ident.Clear()
	}
}

func watchIdentity(ctx context.Context, ident *identity.Context, creds *storedCredentials, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := refreshIdentity(ident, creds, now)
			if err != nil && !warned {
				slog.Warn("session token no longer valid", "error", err)
			}
			warned = err != nil
		}
	}
}

func logIdentityChanges(ctx context.Context, ident *identity.Context) {
	ch, cancel := ident.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if c == nil {
				slog.Info("viewer signed out")
				continue
			}
			slog.Info("viewer claims changed", "roles", c.Roles())
		}
	}
}
