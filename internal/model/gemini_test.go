package model

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlalabs/parla-core/internal/config"
)

func newGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClient(config.ModelConfig{
		Endpoint:    srv.URL,
		APIKey:      "test-key",
		TextModel:   "text-model",
		SpeechModel: "speech-model",
		TimeoutMS:   2000,
	})
}

func TestTranscribeSendsInlineAudio(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		parts := req.Contents[0].Parts
		if len(parts) != 2 || parts[0].InlineData == nil {
			t.Fatalf("expected inline audio part plus instruction, got %+v", parts)
		}
		if parts[0].InlineData.MIMEType != "audio/webm" {
			t.Fatalf("wrong mime type: %q", parts[0].InlineData.MIMEType)
		}
		if parts[1].Text == "" {
			t.Fatal("missing instruction part")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "hello world"}},
				},
			}},
		})
	})

	text, err := c.TranscribeOrTranslate(context.Background(), []byte{1, 2, 3}, "audio/webm", "Transcribe exactly.")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("wrong transcript: %q", text)
	}
}

func TestSynthesizeDecodesAudioPayload(t *testing.T) {
	pcm := []byte{0, 1, 0, 2, 0, 3}
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gc := req.GenerationConfig
		if gc == nil || len(gc.ResponseModalities) != 1 || gc.ResponseModalities[0] != "AUDIO" {
			t.Fatalf("expected AUDIO response modality, got %+v", gc)
		}
		if gc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
			t.Fatalf("wrong voice: %+v", gc.SpeechConfig)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "audio/L16;codec=pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
			}},
		})
	})

	got, err := c.Synthesize(context.Background(), "hi", "Kore")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != len(pcm) {
		t.Fatalf("wrong pcm length: %d", len(got))
	}
}

func TestQuotaErrorMapping(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Synthesize(context.Background(), "hi", "Kore")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAuthErrorMapping(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.TranscribeOrTranslate(context.Background(), []byte{1}, "audio/webm", "Transcribe exactly.")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}
