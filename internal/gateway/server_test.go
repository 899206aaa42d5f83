package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parlalabs/parla-core/internal/auth"
	"github.com/parlalabs/parla-core/internal/config"
	"github.com/parlalabs/parla-core/internal/generate"
	"github.com/parlalabs/parla-core/internal/history"
	"github.com/parlalabs/parla-core/internal/ledger"
	"github.com/parlalabs/parla-core/internal/model"
	"github.com/parlalabs/parla-core/internal/pipeline"
	"github.com/parlalabs/parla-core/internal/session"
)

func newTestHandler(t *testing.T, startingBalance int64) (http.Handler, *ledger.Ledger) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Default()
	cfg.Auth.TokenSecret = "test-secret"
	cfg.Ledger.StartingBalance = startingBalance
	cfg.Model.Mode = "mock"

	client, err := model.New(cfg.Model)
	if err != nil {
		t.Fatalf("model client: %v", err)
	}
	led := ledger.New(cfg.Ledger, log)
	pipe := pipeline.New(cfg.Model, client, log)
	hist := history.NewLog()
	svc := generate.NewService(cfg.Model, led, pipe, hist, nil, nil, log)
	sessions := session.NewManager(cfg.Auth)
	provider := auth.NewProvider(cfg.Auth, log)

	srv := NewServer(cfg, sessions, led, svc, hist, provider, nil, func() bool { return true }, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return srv.Handler(ctx), led
}

func previewCookie() *http.Cookie {
	return &http.Cookie{Name: session.PreviewCookie, Value: "preview@parla.local"}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "10.0.0.1:54321"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUserUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, 10000)
	rec := doJSON(t, h, http.MethodGet, "/api/user", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthURLPreviewFallback(t *testing.T) {
	h, _ := newTestHandler(t, 10000)
	rec := doJSON(t, h, http.MethodGet, "/api/auth/url", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Preview bool `json:"preview"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body.Preview {
		t.Fatalf("expected preview fallback, got %s", rec.Body.String())
	}
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.PreviewCookie && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a preview cookie to be set")
	}
}

func TestUserWithPreviewCookie(t *testing.T) {
	h, _ := newTestHandler(t, 10000)
	rec := doJSON(t, h, http.MethodGet, "/api/user", "", previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var acct accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Identity != "preview@parla.local" || acct.Balance != 10000 {
		t.Fatalf("unexpected account: %+v", acct)
	}
}

func TestGenerateDirectEndToEnd(t *testing.T) {
	h, led := newTestHandler(t, 10000)

	rec := doJSON(t, h, http.MethodPost, "/api/generate",
		`{"mode":"direct","text":"hello gateway"}`, previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Text    string      `json:"text"`
		Cost    int64       `json:"cost"`
		AudioID string      `json:"audio_id"`
		Billed  bool        `json:"billed"`
		Account accountView `json:"account"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Cost != int64(len("hello gateway")) || !body.Billed {
		t.Fatalf("unexpected billing: %+v", body)
	}
	if body.Account.Balance != 10000-body.Cost {
		t.Fatalf("unexpected balance %d", body.Account.Balance)
	}
	if got := led.Resolve("preview@parla.local").Balance; got != 10000-body.Cost {
		t.Fatalf("ledger drifted: %d", got)
	}

	histRec := doJSON(t, h, http.MethodGet, "/api/history", "", previewCookie())
	if histRec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", histRec.Code)
	}
	var histBody struct {
		Items []history.Item `json:"items"`
	}
	if err := json.Unmarshal(histRec.Body.Bytes(), &histBody); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(histBody.Items) != 1 || histBody.Items[0].AudioID != body.AudioID {
		t.Fatalf("unexpected history: %+v", histBody.Items)
	}

	audioRec := doJSON(t, h, http.MethodGet, "/api/audio/"+body.AudioID, "", previewCookie())
	if audioRec.Code != http.StatusOK {
		t.Fatalf("audio: expected 200, got %d", audioRec.Code)
	}
	if ct := audioRec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if audioRec.Body.Len() == 0 {
		t.Fatalf("expected audio bytes")
	}
}

func TestGenerateInsufficientCredits(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	rec := doJSON(t, h, http.MethodPost, "/api/generate",
		`{"mode":"direct","text":"this text is longer than five characters"}`, previewCookie())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error     string `json:"error"`
		Required  int64  `json:"required"`
		Available int64  `json:"available"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "insufficient_credits" || body.Available != 5 {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestGenerateUnknownMode(t *testing.T) {
	h, _ := newTestHandler(t, 10000)
	rec := doJSON(t, h, http.MethodPost, "/api/generate",
		`{"mode":"chant","text":"hi"}`, previewCookie())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateMissingAudio(t *testing.T) {
	h, _ := newTestHandler(t, 10000)
	rec := doJSON(t, h, http.MethodPost, "/api/generate",
		`{"mode":"convert"}`, previewCookie())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), pipeline.ErrAudioRequired.Error()) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestDeduct(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	rec := doJSON(t, h, http.MethodPost, "/api/user/deduct", `{"amount":40}`, previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var acct accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.Balance != 60 {
		t.Fatalf("expected balance 60, got %d", acct.Balance)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/user/deduct", `{"amount":61}`, previewCookie())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/user/deduct", `{"amount":-1}`, previewCookie())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive amount, got %d", rec.Code)
	}
}

func TestCancelWithNothingInFlight(t *testing.T) {
	h, _ := newTestHandler(t, 100)
	rec := doJSON(t, h, http.MethodPost, "/api/generate/cancel", "", previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"cancelled":false`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestVoices(t *testing.T) {
	h, _ := newTestHandler(t, 100)
	rec := doJSON(t, h, http.MethodGet, "/api/voices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Voices  []struct{ ID string } `json:"voices"`
		Default string                `json:"default"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Voices) == 0 || body.Default == "" {
		t.Fatalf("unexpected catalog: %s", rec.Body.String())
	}
}

func TestAudioDeniedToOtherIdentity(t *testing.T) {
	h, _ := newTestHandler(t, 10000)

	rec := doJSON(t, h, http.MethodPost, "/api/generate",
		`{"mode":"direct","text":"mine"}`, previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", rec.Code)
	}
	var body struct {
		AudioID string `json:"audio_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	other := &http.Cookie{Name: session.PreviewCookie, Value: "other@x.com"}
	if rec := doJSON(t, h, http.MethodGet, "/api/audio/"+body.AudioID, "", other); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another identity, got %d", rec.Code)
	}
}

func TestAudioNotFound(t *testing.T) {
	h, _ := newTestHandler(t, 100)
	rec := doJSON(t, h, http.MethodGet, "/api/audio/no-such-id", "", previewCookie())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	h, _ := newTestHandler(t, 100)
	rec := doJSON(t, h, http.MethodPost, "/api/auth/logout", "", previewCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cleared := 0
	for _, c := range rec.Result().Cookies() {
		if (c.Name == session.SessionCookie || c.Name == session.PreviewCookie) && c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Fatalf("expected both cookies cleared, got %d", cleared)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, 100)
	if rec := doJSON(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
}
