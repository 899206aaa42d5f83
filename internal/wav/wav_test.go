package wav

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeHeaderFields(t *testing.T) {
	pcm := make([]byte, 4800)
	out := Encode(pcm, 24000)

	if len(out) != HeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(pcm), len(out))
	}
	if !bytes.Equal(out[0:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatalf("bad container magic: %q %q", out[0:4], out[8:12])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+4800 {
		t.Fatalf("riff chunk size = %d, want %d", got, 36+4800)
	}
	if got := binary.LittleEndian.Uint16(out[20:22]); got != 1 {
		t.Fatalf("format tag = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 48000 {
		t.Fatalf("byte rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != 16 {
		t.Fatalf("bit depth = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 4800 {
		t.Fatalf("data size = %d, want 4800", got)
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	out := Encode(nil, 22050)
	if len(out) != HeaderSize {
		t.Fatalf("expected bare header, got %d bytes", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Fatalf("data size = %d, want 0", got)
	}
}
