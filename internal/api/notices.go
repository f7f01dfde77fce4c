package api

import (
	"sync"
	"time"

	"github.com/connectmytask/taskui/internal/profile"
)

const maxNotices = 50

type notice struct {
	Level   string    `json:"level"` // "success" or "error"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// noticeBuffer collects an editor's notifications until the UI drains them.
type noticeBuffer struct {
	mu    sync.Mutex
	items []notice
}

func (b *noticeBuffer) push(level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, notice{Level: level, Message: msg, At: time.Now()})
	if len(b.items) > maxNotices {
		b.items = b.items[len(b.items)-maxNotices:]
	}
}

func (b *noticeBuffer) drain() []notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []notice{}
	}
	return out
}

func (b *noticeBuffer) notifier() profile.Notifier {
	return profile.NotifierFuncs{
		OnSuccess: func(msg string) { b.push("success", msg) },
		OnError:   func(msg string) { b.push("error", msg) },
	}
}
