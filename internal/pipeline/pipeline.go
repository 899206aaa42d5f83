// Package pipeline drives a single generation request through its processing
// states: resolve the text to speak, then synthesize it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/model"
)

// Mode selects one of the three processing strategies.
type Mode string

const (
	// ModeDirect synthesizes the caller-supplied text verbatim.
	ModeDirect Mode = "direct"
	// ModeConvert transcribes uploaded audio exactly, then re-voices it.
	ModeConvert Mode = "convert"
	// ModeDub translates uploaded audio into a target language, then voices it.
	ModeDub Mode = "dub"
)

// State of a pipeline run. Failed is reachable from any non-idle state;
// Cancelled only from Preprocessing or Synthesizing.
type State string

const (
	StateIdle          State = "idle"
	StatePreprocessing State = "preprocessing"
	StateSynthesizing  State = "synthesizing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

var (
	ErrAudioRequired      = errors.New("pipeline: mode requires uploaded audio")
	ErrTextRequired       = errors.New("pipeline: text must not be empty")
	ErrEmptyTranscription = errors.New("pipeline: model returned an empty transcription")
	ErrEmptySynthesis     = errors.New("pipeline: model returned no audio")
	ErrCancelled          = errors.New("pipeline: run cancelled")
	ErrUnknownMode        = errors.New("pipeline: unknown mode")
)

// TextTooLongError is returned before any model call is made when the
// resolved text exceeds the character ceiling.
type TextTooLongError struct {
	Length int
	Limit  int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("text too long: %d characters, limit %d", e.Length, e.Limit)
}

// Request describes one generation run.
type Request struct {
	Mode           Mode
	Text           string
	Audio          []byte
	AudioMIME      string
	Voice          string
	TargetLanguage string
}

// Result of a completed run. Cost is the character count of the text that was
// actually synthesized.
type Result struct {
	Text string
	PCM  []byte
	Cost int64
}

// Preflight runs between text resolution and synthesis; the orchestrator uses
// it for the deferred credit check. A non-nil error aborts the run before the
// synthesis call.
type Preflight func(ctx context.Context, cost int64) error

// Pipeline executes generation runs against a model client.
type Pipeline struct {
	client   model.Client
	maxChars int
	logger   *slog.Logger
}

func New(cfg config.ModelConfig, client model.Client, log *slog.Logger) *Pipeline {
	return &Pipeline{
		client:   client,
		maxChars: cfg.MaxChars,
		logger:   log.With(slog.String("component", "pipeline")),
	}
}

// Run executes req and returns the result plus the terminal state. Cancelled
// runs return ErrCancelled and produce no partial output; no external call is
// made for requests that fail validation.
func (p *Pipeline) Run(ctx context.Context, req Request, preflight Preflight) (*Result, State, error) {
	if err := p.validate(req); err != nil {
		return nil, StateFailed, err
	}

	text := strings.TrimSpace(req.Text)

	switch req.Mode {
	case ModeConvert, ModeDub:
		resolved, err := p.resolveText(ctx, req)
		if err != nil {
			if cancelled(ctx, err) {
				return nil, StateCancelled, ErrCancelled
			}
			return nil, StateFailed, err
		}
		text = resolved
	case ModeDirect:
		// caller text used verbatim
	}

	if length := len([]rune(text)); length > p.maxChars {
		return nil, StateFailed, &TextTooLongError{Length: length, Limit: p.maxChars}
	}
	cost := int64(len([]rune(text)))

	if preflight != nil {
		if err := preflight(ctx, cost); err != nil {
			return nil, StateFailed, err
		}
	}

	start := time.Now()
	pcm, err := p.client.Synthesize(ctx, text, req.Voice)
	if err != nil {
		if cancelled(ctx, err) {
			return nil, StateCancelled, ErrCancelled
		}
		return nil, StateFailed, err
	}
	if len(pcm) == 0 {
		return nil, StateFailed, ErrEmptySynthesis
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		// cancellation won the race even though the call returned
		return nil, StateCancelled, ErrCancelled
	}

	p.logger.Debug("synthesis complete",
		slog.String("mode", string(req.Mode)),
		slog.Int64("cost", cost),
		slog.Duration("latency", time.Since(start)))

	return &Result{Text: text, PCM: pcm, Cost: cost}, StateCompleted, nil
}

func (p *Pipeline) validate(req Request) error {
	switch req.Mode {
	case ModeDirect:
		text := strings.TrimSpace(req.Text)
		if text == "" {
			return ErrTextRequired
		}
		if length := len([]rune(text)); length > p.maxChars {
			return &TextTooLongError{Length: length, Limit: p.maxChars}
		}
	case ModeConvert, ModeDub:
		if len(req.Audio) == 0 {
			return ErrAudioRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	return nil
}

func (p *Pipeline) resolveText(ctx context.Context, req Request) (string, error) {
	instruction := "Transcribe this audio exactly as spoken. Return only the transcript text, nothing else."
	if req.Mode == ModeDub {
		instruction = fmt.Sprintf(
			"Translate the speech in this audio into %s. Return only the translated text, nothing else.",
			req.TargetLanguage)
	}

	text, err := p.client.TranscribeOrTranslate(ctx, req.Audio, req.AudioMIME, instruction)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscription
	}
	return text, nil
}

// cancelled reports whether the run was explicitly aborted. A deadline expiry
// is an upstream failure, not a cancellation, and must surface as an error.
func cancelled(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}
