package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"datalink-sync/internal/encoder"
	"datalink-sync/internal/form"
	"datalink-sync/internal/importer"
	"datalink-sync/internal/session"
	"datalink-sync/internal/store"
	"datalink-sync/internal/transmit"
)

const (
	maxBodySize    = 1 << 20
	maxPayloadSize = 8 << 20
)

func (s *Server) handleAPIGetForm(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.Form())
}

func (s *Server) handleAPIPutForm(w http.ResponseWriter, r *http.Request) {
	var st form.State
	if !s.decodeBody(w, r, &st) {
		return
	}
	if err := s.sess.UpdateForm(&st); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.Form())
}

// handleAPIStoredSection returns a section as persisted, which differs from
// the live form until the next save.
func (s *Server) handleAPIStoredSection(w http.ResponseWriter, r *http.Request) {
	raw, err := s.sess.StoredSection(r.PathValue("section"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, raw)
}

func (s *Server) handleAPIClearSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if err := s.sess.ClearSection(section); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "section": section})
}

func (s *Server) handleAPIReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Reset(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.Form())
}

func (s *Server) handleAPIRequest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.Preview(r.Context()))
}

func (s *Server) handleAPIDevice(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.DeviceStatus())
}

func (s *Server) handleAPIPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := transmit.Ports()
	if err != nil {
		s.logger.Error("list serial ports", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleAPIConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Connect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.DeviceStatus())
}

func (s *Server) handleAPIDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Disconnect(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.DeviceStatus())
}

// handleAPISend blocks until the transfer finishes. Progress is streamed
// over /ws.
func (s *Server) handleAPISend(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.Send(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIPayloads(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.PayloadSizes())
}

func (s *Server) handleAPIPutPayload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return
	}
	if err := s.sess.SetPayload(r.PathValue("kind"), data); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.PayloadSizes())
}

func (s *Server) handleAPIDeletePayload(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ClearPayload(r.PathValue("kind")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.sess.PayloadSizes())
}

type authResponse struct {
	importer.TokenStatus
	AuthURL string `json:"auth_url,omitempty"`
}

func (s *Server) handleAPIAuth(w http.ResponseWriter, r *http.Request) {
	resp := authResponse{TokenStatus: s.sess.Tokens().Status()}
	if s.oauth.ClientID != "" {
		resp.AuthURL = s.oauth.AuthURL(s.sess.ID())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type signInRequest struct {
	Fragment string `json:"fragment"`
}

func (s *Server) handleAPISignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	status, err := s.sess.SignIn(req.Fragment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAPISignOut(w http.ResponseWriter, r *http.Request) {
	s.sess.SignOut()
	s.writeJSON(w, http.StatusOK, s.sess.Tokens().Status())
}

func (s *Server) handleAPISources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.Sources())
}

func (s *Server) handleAPIFetch(w http.ResponseWriter, r *http.Request) {
	var c importer.Criteria
	if !s.decodeBody(w, r, &c) {
		return
	}
	records, err := s.sess.Fetch(r.Context(), r.PathValue("source"), c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPICached(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if _, err := s.sess.Source(source); err != nil {
		s.writeError(w, err)
		return
	}
	records := s.sess.Cached(source)
	if records == nil {
		records = []importer.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPIImport(w http.ResponseWriter, r *http.Request) {
	var sel importer.Selection
	if !s.decodeBody(w, r, &sel) {
		return
	}
	n, err := s.sess.Import(r.PathValue("source"), sel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handleAPIActivity(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sess.Activity())
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": s.sess.ID(),
		"status":  s.sess.Status(),
		"device":  s.sess.DeviceStatus(),
		"auth":    s.sess.Tokens().Status(),
	})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps session errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		aerr *importer.AuthError
		ierr *importer.ImportError
		cerr *transmit.ConnectionError
		terr *transmit.TransmissionError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &aerr):
		status = http.StatusUnauthorized
	case errors.Is(err, importer.ErrNoRecords), errors.Is(err, session.ErrUnknownSource),
		errors.Is(err, session.ErrUnknownSection), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transmit.ErrBusy), errors.Is(err, transmit.ErrNotConnected),
		errors.Is(err, transmit.ErrHandleHeld):
		status = http.StatusConflict
	case errors.As(err, &ierr), errors.As(err, &cerr), errors.As(err, &terr):
		status = http.StatusBadGateway
	case errors.Is(err, session.ErrNotFetched), errors.Is(err, session.ErrNoSelection):
		status = http.StatusBadRequest
	case errors.Is(err, encoder.ErrNoEncoder):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
