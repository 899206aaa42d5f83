package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parlalabs/parla-core/internal/auth"
	"github.com/parlalabs/parla-core/internal/ledger"
	"github.com/parlalabs/parla-core/internal/model"
	"github.com/parlalabs/parla-core/internal/pipeline"
	"github.com/parlalabs/parla-core/internal/session"
	"github.com/parlalabs/parla-core/internal/voices"
)

const maxRequestBody = 32 << 20 // uploads arrive base64-encoded in JSON

type generateRequest struct {
	Mode           string `json:"mode"`
	Text           string `json:"text"`
	Voice          string `json:"voice"`
	TargetLanguage string `json:"target_language"`
	AudioBase64    string `json:"audio_base64"`
	AudioMIME      string `json:"audio_mime"`
}

type accountView struct {
	Identity  string `json:"identity"`
	Balance   int64  `json:"balance"`
	Tier      string `json:"tier"`
	Unlimited bool   `json:"unlimited"`
}

func viewOf(a ledger.Account) accountView {
	return accountView{
		Identity:  a.Identity,
		Balance:   a.Balance,
		Tier:      string(a.Tier),
		Unlimited: a.Unlimited(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// identity resolves the caller or writes a 401 and reports false.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.sessions.ResolveRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in or start a preview session")
		return "", false
	}
	return id, true
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	var audio []byte
	if req.AudioBase64 != "" {
		var err error
		audio, err = base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "audio_base64 is not valid base64")
			return
		}
	}

	out, err := s.generator.Generate(r.Context(), identity, pipeline.Request{
		Mode:           pipeline.Mode(req.Mode),
		Text:           req.Text,
		Audio:          audio,
		AudioMIME:      req.AudioMIME,
		Voice:          req.Voice,
		TargetLanguage: req.TargetLanguage,
	})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"text":     out.Text,
		"cost":     out.Cost,
		"audio_id": out.Item.AudioID,
		"billed":   out.Billed,
		"account":  viewOf(out.Account),
	})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	var tooLong *pipeline.TextTooLongError
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		// The run was pre-empted; nothing was committed.
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient_credits",
			"message":   err.Error(),
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.As(err, &tooLong):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "text_too_long",
			"message": err.Error(),
			"length":  tooLong.Length,
			"limit":   tooLong.Limit,
		})
	case errors.Is(err, pipeline.ErrEmptyTranscription):
		writeError(w, http.StatusUnprocessableEntity, "empty_transcription",
			"the audio produced no usable text")
	case errors.Is(err, pipeline.ErrEmptySynthesis):
		writeError(w, http.StatusUnprocessableEntity, "empty_synthesis",
			"the model returned no audio")
	case errors.Is(err, pipeline.ErrAudioRequired),
		errors.Is(err, pipeline.ErrTextRequired),
		errors.Is(err, pipeline.ErrUnknownMode),
		errors.Is(err, model.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, model.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "model_quota_exceeded",
			"the speech model quota is exhausted, wait and retry")
	default:
		s.logger.Error("generation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "model_unavailable", "speech model request failed")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.generator.Cancel(identity)})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.ledger.Resolve(identity)))
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be a positive integer")
		return
	}
	account, err := s.ledger.CheckAndDeduct(identity, req.Amount)
	if err != nil {
		var insufficient *ledger.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":     "insufficient_credits",
				"message":   err.Error(),
				"required":  insufficient.Required,
				"available": insufficient.Available,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "deduction failed")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(account))
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	if !s.provider.Configured() {
		// No identity provider; hand out the shared preview identity.
		http.SetCookie(w, &http.Cookie{
			Name:     session.PreviewCookie,
			Value:    s.provider.PreviewIdentity(),
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"preview": true})
		return
	}

	state, err := auth.NewState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not mint state")
		return
	}
	url, err := s.provider.AuthURL(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not build auth url")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"preview": false, "url": url})
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !s.provider.Configured() {
		writeError(w, http.StatusNotFound, "not_found", "no identity provider configured")
		return
	}

	stateParam := r.URL.Query().Get("state")
	c, err := r.Cookie(stateCookie)
	if err != nil || stateParam == "" || c.Value != stateParam {
		writeError(w, http.StatusBadRequest, "invalid_state", "authorization state mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "authorization code missing")
		return
	}

	email, err := s.provider.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("oauth exchange failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "auth_failed", "identity provider exchange failed")
		return
	}
	token, err := s.sessions.Issue(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   s.cfg.Auth.TokenTTLHours * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	expireCookie(w, stateCookie, true)
	expireCookie(w, session.PreviewCookie, false)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	expireCookie(w, session.SessionCookie, true)
	expireCookie(w, session.PreviewCookie, false)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices.All(), "default": voices.Default})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	items := s.history.ForIdentity(identity)
	if items == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []struct{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	audio, ok := s.history.Audio(identity, r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no audio with that id")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
