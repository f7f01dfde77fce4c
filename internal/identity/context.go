package identity

import "sync"

// Context is the reactive holder of the current viewer's claims. It is
// created by the caller and passed to whoever needs it; there is no
// package-level instance.
//
// A Context starts with no claims (nobody signed in). Set and Clear are
// called by the authentication layer; everything else only reads.
type Context struct {
	mu     sync.RWMutex
	claims *Claims

	subs   map[int]chan *Claims
	nextID int
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{subs: make(map[int]chan *Claims)}
}

// NewContextWith returns a Context already holding c.
func NewContextWith(c Claims) *Context {
	ctx := NewContext()
	ctx.claims = &c
	return ctx
}

// Current returns a copy of the current claims, or nil when no identity is
// established.
func (c *Context) Current() *Claims {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claims == nil {
		return nil
	}
	cp := *c.claims
	return &cp
}

// Set replaces the claims and notifies subscribers.
func (c *Context) Set(claims Claims) {
	c.mu.Lock()
	c.claims = &claims
	c.broadcastLocked()
	c.mu.Unlock()
}

// Clear drops the claims (sign-out) and notifies subscribers.
func (c *Context) Clear() {
	c.mu.Lock()
	c.claims = nil
	c.broadcastLocked()
	c.mu.Unlock()
}

// Subscribe returns a channel that receives the claims after every change
// (nil meaning signed out) and a function that ends the subscription.
// Slow readers only ever see the latest value.
func (c *Context) Subscribe() (<-chan *Claims, func()) {
	ch := make(chan *Claims, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Context) broadcastLocked() {
	for _, ch := range c.subs {
		var v *Claims
		if c.claims != nil {
			cp := *c.claims
			v = &cp
		}
		// Drop an unread value so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
