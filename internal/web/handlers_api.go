package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lanscout/internal/scan"
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

// handleAPIScan kicks off a scan in the background. The result arrives as
// scan_completed on the event stream; a second request while one is running
// gets 409.
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		done <- s.coord.Scan(ctx)
	}()

	// Report a rejected scan synchronously; anything longer-lived is left to
	// the event stream.
	select {
	case err := <-done:
		if errors.Is(err, scan.ErrScanInProgress) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": "scan already in progress"})
			return
		}
		if err != nil {
			s.logger.Error("scan", "err", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case <-time.After(100 * time.Millisecond):
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
	}
}

func (s *Server) handleAPIAuthState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.AuthState())
}

func (s *Server) handleAPIForget(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Forget(); err != nil {
		s.logger.Error("forget", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
