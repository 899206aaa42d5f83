// Package history keeps the process-local record of successful generations
// and the audio payloads they produced.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const previewLimit = 80

// Item is one completed generation, newest first. Items are never persisted;
// the log resets on restart.
type Item struct {
	ID        string    `json:"id"`
	Identity  string    `json:"-"`
	Preview   string    `json:"preview"`
	Voice     string    `json:"voice"`
	AudioID   string    `json:"audio_id"`
	Cost      int64     `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

type audioEntry struct {
	identity string
	data     []byte
}

// Log is an append-only in-memory history plus an audio store keyed by id.
type Log struct {
	mu    sync.Mutex
	items []Item
	audio map[string]audioEntry
	clock func() time.Time
}

func NewLog() *Log {
	return &Log{
		audio: make(map[string]audioEntry),
		clock: time.Now,
	}
}

// Append records one successful generation and stores its audio, returning
// the new item. Called exactly once per completed run.
func (l *Log) Append(identity, text, voice string, audio []byte) Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	audioID := uuid.New().String()
	l.audio[audioID] = audioEntry{identity: identity, data: audio}

	item := Item{
		ID:        uuid.New().String(),
		Identity:  identity,
		Preview:   truncate(text),
		Voice:     voice,
		AudioID:   audioID,
		Cost:      int64(len([]rune(text))),
		CreatedAt: l.clock().UTC(),
	}
	l.items = append([]Item{item}, l.items...)
	return item
}

// ForIdentity returns the caller's items, newest first.
func (l *Log) ForIdentity(identity string) []Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Item
	for _, item := range l.items {
		if item.Identity == identity {
			out = append(out, item)
		}
	}
	return out
}

// Audio returns the stored payload for id, but only to the identity that
// generated it.
func (l *Log) Audio(identity, id string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.audio[id]
	if !ok || entry.identity != identity {
		return nil, false
	}
	return entry.data, true
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "…"
}
