package history

import (
	"strings"
	"testing"
	"time"
)

func TestAppendNewestFirst(t *testing.T) {
	l := NewLog()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	l.Append("a@x.com", "first", "Kore", []byte{1})
	l.Append("a@x.com", "second", "Puck", []byte{2})
	l.Append("b@x.com", "other user", "Kore", []byte{3})

	items := l.ForIdentity("a@x.com")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Preview != "second" || items[1].Preview != "first" {
		t.Fatalf("expected newest first, got %q then %q", items[0].Preview, items[1].Preview)
	}
	if !items[0].CreatedAt.Equal(now) {
		t.Fatalf("wrong timestamp: %v", items[0].CreatedAt)
	}
}

func TestPreviewTruncated(t *testing.T) {
	l := NewLog()
	long := strings.Repeat("x", 200)

	item := l.Append("a@x.com", long, "Kore", []byte{1})
	if len([]rune(item.Preview)) != previewLimit+1 {
		t.Fatalf("preview length = %d", len([]rune(item.Preview)))
	}
	if item.Cost != 200 {
		t.Fatalf("cost must count full text, got %d", item.Cost)
	}
}

func TestAudioRoundTrip(t *testing.T) {
	l := NewLog()
	item := l.Append("a@x.com", "hello", "Kore", []byte{4, 5, 6})

	audio, ok := l.Audio("a@x.com", item.AudioID)
	if !ok || len(audio) != 3 {
		t.Fatalf("audio lookup failed: %v %v", ok, audio)
	}
	if _, ok := l.Audio("a@x.com", "missing"); ok {
		t.Fatal("unexpected audio for unknown id")
	}
}

func TestAudioDeniedToOtherIdentity(t *testing.T) {
	l := NewLog()
	item := l.Append("a@x.com", "hello", "Kore", []byte{4, 5, 6})

	if _, ok := l.Audio("b@x.com", item.AudioID); ok {
		t.Fatal("audio must only be served to the identity that generated it")
	}
}
