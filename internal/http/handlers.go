package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"rsc.io/qr"

	"github.com/roelfdiedericks/autoreply/internal/dispatch"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/status"
	"github.com/roelfdiedericks/autoreply/internal/store"
	"github.com/roelfdiedericks/autoreply/internal/transport"
)

const maxMessageLimit = 500

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.Snapshot())
}

// qrResponse is the body of GET /api/qr.
type qrResponse struct {
	Status  status.Connection `json:"status"`
	QR      string            `json:"qr,omitempty"`
	DataURL string            `json:"dataUrl,omitempty"`
}

// handleQR handles GET /api/qr - the pending pairing code as a PNG data URL
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Status.Snapshot()
	resp := qrResponse{Status: snap.Status}
	if snap.QR == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	code, err := qr.Encode(snap.QR, qr.L)
	if err != nil {
		L_error("http: qr encode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}
	resp.QR = snap.QR
	resp.DataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG())
	writeJSON(w, http.StatusOK, resp)
}

// handleMessages handles GET /api/messages?chat=&limit=&offset=
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Messages == nil {
		writeError(w, http.StatusNotImplemented, "message history unavailable")
		return
	}

	q := store.MessageQuery{ChatID: r.URL.Query().Get("chat")}
	var ok bool
	if q.Limit, ok = queryInt(r, "limit"); !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if q.Offset, ok = queryInt(r, "offset"); !ok {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if q.Limit > maxMessageLimit {
		q.Limit = maxMessageLimit
	}

	msgs, err := s.deps.Messages.ListMessages(r.Context(), q)
	if err != nil {
		L_error("http: list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// sendRequest is the body of POST /api/send.
type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// handleSend handles POST /api/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusNotImplemented, "sending unavailable")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "recipient and message are required")
		return
	}

	msg, err := s.deps.Dispatcher.SendManual(r.Context(), req.To, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, msg)
	case errors.Is(err, dispatch.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "whatsapp client not connected")
	case transport.IsSessionClosed(err):
		writeError(w, http.StatusServiceUnavailable, "whatsapp session closed")
	default:
		L_error("http: manual send failed", "to", req.To, "error", err)
		writeError(w, http.StatusBadGateway, "send failed")
	}
}

// handleLogout handles POST /api/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusNotImplemented, "logout unavailable")
		return
	}
	if err := s.deps.Session.Logout(r.Context()); err != nil {
		L_error("http: logout failed", "error", err)
		writeError(w, http.StatusBadGateway, "logout failed")
		return
	}
	L_info("http: whatsapp session logged out")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
