// Package protocol defines the bus subjects and payloads published by the
// generation service.
package protocol

import "time"

// GenerationEvent announces the outcome of one generation run.
type GenerationEvent struct {
	Identity  string    `json:"identity"`
	Mode      string    `json:"mode"`
	Voice     string    `json:"voice,omitempty"`
	Cost      int64     `json:"cost"`
	AudioID   string    `json:"audio_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGenerationCompleted = "generation.completed"
	SubjectGenerationFailed    = "generation.failed"
	SubjectGenerationCancelled = "generation.cancelled"
)
