package stubservice

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"playgate/internal/session"
)

// Router assembles the stub's full HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/issue-token", s.handleIssueToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/age-gate/get-requirements", s.handleRequirements)
		r.Post("/age-gate/check", s.handleCheck)
		r.Get("/age-gate/get-default-permissions", s.handleDefaultPermissions)
		r.Get("/challenge/get", s.handleChallengeGet)
		r.Post("/challenge/send-email", s.handleSendEmail)
		r.Get("/challenge/await", s.handleAwait)
		r.Get("/session/get", s.handleSessionGet)
		r.Post("/session/upgrade", s.handleUpgrade)
		r.Post("/test/set-challenge-status", s.handleSetChallengeStatus)
	})
	return r
}

// requireToken validates the bearer token issued by /auth/issue-token.
func (s *Service) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.tokens.Validate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	key, ok := bearer(r)
	if !ok || !s.checkAPIKey(key) {
		s.logger.Warn("token request with bad api key")
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	var body struct {
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	token, err := s.tokens.Issue(body.ClientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}
	s.logger.Info("issued access token", "clientId", body.ClientID)
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (s *Service) handleRequirements(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jurisdiction(r.URL.Query().Get("jurisdiction"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown jurisdiction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"display":              j.Display,
		"ageAssuranceRequired": j.AgeAssuranceRequired,
		"approvedMethods":      j.ApprovedMethods,
		"digitalConsentAge":    j.DigitalConsentAge,
	})
}

func (s *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DateOfBirth  string `json:"dateOfBirth"`
		Jurisdiction string `json:"jurisdiction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	j, ok := s.jurisdiction(body.Jurisdiction)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown jurisdiction")
		return
	}

	age := ageFor(body.DateOfBirth)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case age < j.MinimumAge:
		s.logger.Info("age check prohibited", "jurisdiction", body.Jurisdiction, "age", age)
		writeJSON(w, http.StatusOK, map[string]string{"status": "PROHIBITED"})
	case age < j.DigitalConsentAge:
		ch := s.newChallenge(body.Jurisdiction, body.DateOfBirth, nil)
		s.logger.Info("age check raised challenge", "jurisdiction", body.Jurisdiction, "challengeId", ch.id)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":          "CHALLENGE",
			"challengeId":     ch.id,
			"oneTimePassword": ch.oneTimePassword,
			"url":             ch.url,
		})
	default:
		info := s.newSession(j, body.DateOfBirth, statusPass)
		writeJSON(w, http.StatusOK, map[string]any{"status": "PASS", "session": info})
	}
}

func (s *Service) handleDefaultPermissions(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jurisdiction(r.URL.Query().Get("jurisdiction"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown jurisdiction")
		return
	}
	// No session id: this is a default-permissions record, not a session.
	writeJSON(w, http.StatusOK, session.Info{
		DateOfBirth: r.URL.Query().Get("dateOfBirth"),
		Permissions: clonePermissions(j.DefaultPermissions),
	})
}

func (s *Service) handleChallengeGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ch, ok := s.challenges[r.URL.Query().Get("challengeId")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown challenge")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"oneTimePassword": ch.oneTimePassword,
		"url":             ch.url,
	})
}

func (s *Service) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		ChallengeID string `json:"challengeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	s.mu.Lock()
	ch, ok := s.challenges[body.ChallengeID]
	if ok {
		ch.email = body.Email
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown challenge")
		return
	}
	s.logger.Info("guardian email recorded", "challengeId", body.ChallengeID)
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Service) handleAwait(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("challengeId")
	waitSeconds, err := strconv.Atoi(r.URL.Query().Get("timeout"))
	if err != nil || waitSeconds < 0 {
		waitSeconds = 1
	}

	s.mu.Lock()
	ch, ok := s.challenges[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown challenge")
		return
	}

	timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
	defer timer.Stop()

	for {
		s.mu.Lock()
		status, sessionID, changed := ch.status, ch.sessionID, ch.changed
		s.mu.Unlock()

		if status != statusPending {
			writeJSON(w, http.StatusOK, map[string]string{"status": status, "sessionId": sessionID})
			return
		}
		select {
		case <-changed:
		case <-timer.C:
			writeJSON(w, http.StatusOK, map[string]string{"status": statusPending})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Service) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	etag := r.URL.Query().Get("etag")

	s.mu.Lock()
	rec, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	info := rec.info
	info.Permissions = clonePermissions(rec.info.Permissions)
	s.mu.Unlock()

	if etag != "" && etag == info.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID            string `json:"sessionId"`
		RequestedPermissions []struct {
			Name string `json:"name"`
		} `json:"requestedPermissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	names := make([]string, 0, len(body.RequestedPermissions))
	for _, p := range body.RequestedPermissions {
		names = append(names, p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[body.SessionID]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	if s.autoApprove {
		s.enablePermissions(rec, names)
		info := rec.info
		info.Permissions = clonePermissions(rec.info.Permissions)
		s.logger.Info("session upgrade auto-approved", "sessionId", body.SessionID, "permissions", names)
		writeJSON(w, http.StatusOK, map[string]any{"session": info})
		return
	}

	ch := s.newChallenge("", rec.info.DateOfBirth, &upgradeRef{sessionID: body.SessionID, permissions: names})
	s.logger.Info("session upgrade raised challenge", "sessionId", body.SessionID, "challengeId", ch.id)
	writeJSON(w, http.StatusOK, map[string]string{
		"challengeId":     ch.id,
		"oneTimePassword": ch.oneTimePassword,
		"url":             ch.url,
	})
}

func (s *Service) handleSetChallengeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status      string `json:"status"`
		ChallengeID string `json:"challengeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status != statusPass && body.Status != statusFail {
		writeError(w, http.StatusBadRequest, "status must be PASS or FAIL")
		return
	}

	s.mu.Lock()
	ch, ok := s.challenges[body.ChallengeID]
	if ok {
		s.resolveChallenge(ch, body.Status)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown challenge")
		return
	}
	s.logger.Info("challenge status overridden", "challengeId", body.ChallengeID, "status", body.Status)
	writeJSON(w, http.StatusOK, map[string]string{})
}

func bearer(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
