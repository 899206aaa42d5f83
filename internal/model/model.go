// Package model abstracts the generative speech/language backend.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/parlalabs/parla-core/internal/config"
)

// Sentinel errors surfaced to callers. Quota errors are reported verbatim and
// never retried automatically.
var (
	ErrQuotaExceeded  = errors.New("model: upstream quota exceeded")
	ErrAuthFailed     = errors.New("model: authentication failed")
	ErrInvalidRequest = errors.New("model: invalid request")
	ErrUnavailable    = errors.New("model: backend unavailable")
)

// Client is the capability contract consumed by the generation pipeline.
type Client interface {
	// TranscribeOrTranslate sends audio plus an instruction (verbatim
	// transcription or translation) and returns the resulting text.
	TranscribeOrTranslate(ctx context.Context, audio []byte, mimeType, instruction string) (string, error)

	// Synthesize returns raw s16le mono PCM for text spoken by voice.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// New builds a Client from config.
func New(cfg config.ModelConfig) (Client, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockClient(cfg.SampleRate), nil
	case "gemini":
		return NewGeminiClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model mode %q", cfg.Mode)
	}
}
