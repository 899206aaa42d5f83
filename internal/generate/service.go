// Package generate coordinates the full generation lifecycle: resolve the
// account, meter credits, run the pipeline, and commit the outcome.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parlalabs/parla-core/internal/audit"
	"github.com/parlalabs/parla-core/internal/bus"
	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/history"
	"github.com/parlalabs/parla-core/internal/ledger"
	"github.com/parlalabs/parla-core/internal/pipeline"
	"github.com/parlalabs/parla-core/internal/protocol"
	"github.com/parlalabs/parla-core/internal/voices"
	"github.com/parlalabs/parla-core/internal/wav"
)

// Output is the committed result of one successful generation. Billed is
// false when the post-synthesis deduction lost a race against a concurrent
// drain of the balance; the audio is returned regardless.
type Output struct {
	Item    history.Item
	Text    string
	Cost    int64
	Audio   []byte
	Account ledger.Account
	Billed  bool
}

// Service is the per-request orchestrator.
type Service struct {
	ledger     *ledger.Ledger
	pipeline   *pipeline.Pipeline
	history    *history.Log
	bus        *bus.Client
	audit      *audit.Store
	canceller  *canceller
	sampleRate int
	timeout    time.Duration
	logger     *slog.Logger

	generations metric.Int64Counter
	credits     metric.Int64Counter
	latency     metric.Float64Histogram
}

func NewService(cfg config.ModelConfig, led *ledger.Ledger, pipe *pipeline.Pipeline,
	hist *history.Log, busClient *bus.Client, auditStore *audit.Store, log *slog.Logger) *Service {

	meter := otel.Meter("parla-core/generate")
	generations, _ := meter.Int64Counter("parla_generations_total",
		metric.WithDescription("Completed, failed and cancelled generation runs"))
	credits, _ := meter.Int64Counter("parla_credits_deducted_total",
		metric.WithDescription("Credits deducted from metered accounts"))
	latency, _ := meter.Float64Histogram("parla_generation_duration_seconds",
		metric.WithDescription("End-to-end generation latency"))

	return &Service{
		ledger:      led,
		pipeline:    pipe,
		history:     hist,
		bus:         busClient,
		audit:       auditStore,
		canceller:   newCanceller(),
		sampleRate:  cfg.SampleRate,
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:      log.With(slog.String("component", "generate")),
		generations: generations,
		credits:     credits,
		latency:     latency,
	}
}

// Generate runs one request for identity. Ordering per run: resolve account,
// conservative credit check, pipeline, deduct, history append. Failed and
// cancelled runs commit nothing.
func (s *Service) Generate(ctx context.Context, identity string, req pipeline.Request) (*Output, error) {
	start := time.Now()
	s.ledger.Resolve(identity)

	if req.Voice == "" {
		req.Voice = voices.Default
	}

	// Direct mode's cost is known up front; convert/dub costs are unknown
	// until the transcript exists, so their check happens in the preflight.
	if req.Mode == pipeline.ModeDirect {
		estimate := int64(len([]rune(strings.TrimSpace(req.Text))))
		if err := s.ledger.Check(identity, estimate); err != nil {
			s.finishRun(ctx, identity, req, 0, audit.StatusFailed, err, start)
			return nil, err
		}
	}

	runCtx, token := s.canceller.begin(ctx, identity)
	defer s.canceller.finish(identity, token)
	runCtx, cancelTimeout := context.WithTimeout(runCtx, s.timeout)
	defer cancelTimeout()

	preflight := func(_ context.Context, cost int64) error {
		return s.ledger.Check(identity, cost)
	}

	result, state, err := s.pipeline.Run(runCtx, req, preflight)
	switch state {
	case pipeline.StateCancelled:
		s.finishRun(ctx, identity, req, 0, audit.StatusCancelled, nil, start)
		return nil, pipeline.ErrCancelled
	case pipeline.StateCompleted:
		// fall through
	default:
		s.finishRun(ctx, identity, req, 0, audit.StatusFailed, err, start)
		return nil, err
	}

	account, derr := s.ledger.CheckAndDeduct(identity, result.Cost)
	billed := derr == nil
	status := audit.StatusCompleted
	if !billed {
		// The balance was drained by a concurrent request after the credit
		// check passed. The synthesis is not reversible, so the audio is
		// returned uncharged and the leak is recorded.
		var insufficient *ledger.InsufficientCreditsError
		if !errors.As(derr, &insufficient) {
			s.finishRun(ctx, identity, req, result.Cost, audit.StatusFailed, derr, start)
			return nil, derr
		}
		status = audit.StatusCompletedUnbilled
		s.logger.Warn("post-synthesis deduction failed, returning audio unbilled",
			slog.String("identity", identity),
			slog.Int64("cost", result.Cost),
			slog.Int64("available", insufficient.Available))
	}

	audioBytes := wav.Encode(result.PCM, s.sampleRate)
	item := s.history.Append(identity, result.Text, voices.Label(req.Voice), audioBytes)

	s.publish(protocol.GenerationEvent{
		Identity:  identity,
		Mode:      string(req.Mode),
		Voice:     req.Voice,
		Cost:      result.Cost,
		AudioID:   item.AudioID,
		Status:    "completed",
		Timestamp: time.Now().UTC(),
	})
	s.record(ctx, audit.Entry{
		Identity: identity, Mode: string(req.Mode), Voice: req.Voice,
		Cost: result.Cost, Status: status,
	})

	attrs := metric.WithAttributes(
		attribute.String("mode", string(req.Mode)),
		attribute.String("status", status))
	s.generations.Add(ctx, 1, attrs)
	if billed && !account.Unlimited() {
		s.credits.Add(ctx, result.Cost, attrs)
	}
	s.latency.Record(ctx, time.Since(start).Seconds(), attrs)

	return &Output{
		Item:    item,
		Text:    result.Text,
		Cost:    result.Cost,
		Audio:   audioBytes,
		Account: account,
		Billed:  billed,
	}, nil
}

// Cancel pre-empts identity's in-flight run. Reports whether one was active.
func (s *Service) Cancel(identity string) bool {
	return s.canceller.cancel(identity)
}

// finishRun records a non-committing terminal outcome (failed or cancelled).
func (s *Service) finishRun(ctx context.Context, identity string, req pipeline.Request,
	cost int64, status string, cause error, start time.Time) {

	evt := protocol.GenerationEvent{
		Identity:  identity,
		Mode:      string(req.Mode),
		Voice:     req.Voice,
		Cost:      cost,
		Status:    statusForEvent(status),
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	s.publish(evt)
	s.record(ctx, audit.Entry{
		Identity: identity, Mode: string(req.Mode), Voice: req.Voice,
		Cost: cost, Status: status,
	})

	attrs := metric.WithAttributes(
		attribute.String("mode", string(req.Mode)),
		attribute.String("status", status))
	s.generations.Add(ctx, 1, attrs)
	s.latency.Record(ctx, time.Since(start).Seconds(), attrs)
}

func statusForEvent(status string) string {
	if status == audit.StatusCancelled {
		return "cancelled"
	}
	return "failed"
}

func (s *Service) publish(evt protocol.GenerationEvent) {
	if s.bus != nil {
		s.bus.PublishGeneration(evt)
	}
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record audit entry", slog.String("error", err.Error()))
	}
}
