package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
	"edgerelay/internal/server/models"
)

type registerRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
}

type registerResponse struct {
	ClientID    string `json:"client_id"`
	APIToken    string `json:"api_token"`
	PersonalKey string `json:"personal_key"`
}

type sendRequest struct {
	Ciphertext string          `json:"ciphertext"`
	Nonce      string          `json:"nonce"`
	Tag        string          `json:"tag"`
	AAD        json.RawMessage `json:"aad,omitempty"`
}

type ackRequest struct {
	LastReceivedID int64 `json:"last_received_id"`
}

type publishRequest struct {
	ToClientIDs []string        `json:"to_client_ids"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
}

// wireMessage is the poll/operator representation of one stored copy.
type wireMessage struct {
	ID           int64     `json:"id"`
	FromClientID *string   `json:"from_client_id,omitempty"`
	Type         string    `json:"type"`
	Ciphertext   string    `json:"ciphertext"`
	Nonce        string    `json:"nonce"`
	Tag          string    `json:"tag"`
	CreatedAt    time.Time `json:"created_at"`
}

type pollResponse struct {
	Messages            []wireMessage `json:"messages"`
	PollIntervalSeconds int           `json:"poll_interval_seconds"`
	NextPollAt          time.Time     `json:"next_poll_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrorValidation)
		return
	}

	reg, err := s.registry.Register(r.Context(), req.Fingerprint, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if reg.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, registerResponse{
		ClientID:    reg.ClientID,
		APIToken:    reg.APIToken,
		PersonalKey: reg.PersonalKey,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	client := clientFromContext(r.Context())

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrorValidation)
		return
	}
	if req.Ciphertext == "" || req.Nonce == "" || req.Tag == "" {
		s.writeError(w, r, common.ErrorValidation)
		return
	}

	env := &cryptox.Envelope{Ciphertext: req.Ciphertext, Nonce: req.Nonce, Tag: req.Tag}
	if err := s.fanout.SendFromClient(r.Context(), client, env, req.AAD); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	client := clientFromContext(r.Context())

	var cursor *int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, r, common.ErrorValidation)
			return
		}
		cursor = &parsed
	}

	res, err := s.mailbox.Poll(r.Context(), client.ID, cursor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if len(res.Messages) == 0 {
		w.Header().Set("X-Poll-Interval", strconv.Itoa(res.IntervalSeconds))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	messages := make([]wireMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		messages = append(messages, toWireMessage(m))
	}
	s.writeJSON(w, http.StatusOK, pollResponse{
		Messages:            messages,
		PollIntervalSeconds: res.IntervalSeconds,
		NextPollAt:          res.NextPollAt,
	})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	client := clientFromContext(r.Context())

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrorValidation)
		return
	}

	if err := s.mailbox.Ack(r.Context(), client.ID, req.LastReceivedID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrorValidation)
		return
	}

	queued, err := s.fanout.Publish(r.Context(), req.ToClientIDs, req.Type, req.Payload, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.operator.ListClients(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"clients": statuses})
}

func (s *Server) handleClientMessages(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	var cursor *int64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, r, common.ErrorValidation)
			return
		}
		cursor = &parsed
	}

	messages, err := s.operator.ClientMessages(r.Context(), clientID, cursor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func toWireMessage(m *models.Message) wireMessage {
	return wireMessage{
		ID:           m.ID,
		FromClientID: m.FromClientID,
		Type:         m.Type,
		Ciphertext:   m.Ciphertext,
		Nonce:        m.Nonce,
		Tag:          m.Tag,
		CreatedAt:    m.CreatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "response encode failed", "error", err.Error())
	}
}

// writeError maps service errors onto HTTP statuses. Unrecognized errors
// surface as 500 without leaking detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var message string

	switch {
	case errors.Is(err, common.ErrorValidation):
		status, message = http.StatusBadRequest, "invalid request"
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		status, message = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrorAccessDenied):
		status, message = http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrorNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, common.ErrAuthenticationFailed):
		status, message = http.StatusUnprocessableEntity, "message authentication failed"
	case errors.Is(err, common.ErrStorageUnavailable):
		status, message = http.StatusServiceUnavailable, "storage unavailable"
	default:
		status, message = http.StatusInternalServerError, "internal error"
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
	}

	s.writeJSON(w, status, map[string]string{"error": message})
}
