package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a deterministic in-process backend for development and tests.
type MockClient struct {
	sampleRate int
	delay      time.Duration
}

var _ Client = (*MockClient)(nil)

func NewMockClient(sampleRate int) *MockClient {
	return &MockClient{sampleRate: sampleRate, delay: 10 * time.Millisecond}
}

func (m *MockClient) TranscribeOrTranslate(ctx context.Context, audio []byte, mimeType, instruction string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(m.delay):
	}
	if len(audio) == 0 {
		return "", nil
	}
	if strings.Contains(strings.ToLower(instruction), "translate") {
		return fmt.Sprintf("translated speech from %d bytes of %s", len(audio), mimeType), nil
	}
	return fmt.Sprintf("transcribed speech from %d bytes of %s", len(audio), mimeType), nil
}

func (m *MockClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	// 100ms of silence per 20 characters, minimum one frame.
	frames := len(text)/20 + 1
	samples := frames * m.sampleRate / 10
	return make([]byte, samples*2), nil
}
