package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/chat"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/export"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/middleware"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/session"
)

// Labeler resolves a model id to its display name.
type Labeler interface {
	Label(ctx context.Context, modelID, fallback string) string
}

type ChatHandler struct {
	Sessions   *session.Registry
	Dispatcher *chat.Dispatcher
	Archive    *session.Archive
	Labels     Labeler
}

type SetModelRequest struct {
	Model string `json:"model"`
}

type SendMessageRequest struct {
	Text      string `json:"text"`
	Model     string `json:"model"`
	WebSearch bool   `json:"web_search"`
}

type SendMessageResponse struct {
	Sent      bool         `json:"sent"`
	SessionID string       `json:"session_id,omitempty"`
	Reply     *chatMessage `json:"reply,omitempty"`
	View      session.View `json:"view"`
}

type chatMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// store resolves the caller's session store, answering the request itself
// on failure.
func (h *ChatHandler) store(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	tabID := middleware.TabID(r.Context())
	if tabID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	st, err := h.Sessions.ForTab(r.Context(), tabID)
	if err != nil {
		logrus.WithError(err).WithField("tab", tabID).Error("failed to load sessions")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return st, true
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st.Snapshot())
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	sess, err := st.Create(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *ChatHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Snapshot())
}

func (h *ChatHandler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.Switch(r.Context(), mux.Vars(r)["id"]); err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Snapshot())
}

func (h *ChatHandler) SetModel(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req SetModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	if err := st.SetModel(r.Context(), id, req.Model); err != nil {
		sessionError(w, err)
		return
	}
	sess, _ := st.Get(id)
	writeJSON(w, http.StatusOK, sess)
}

// SendMessage waits for the reply. Failed API calls still answer 200: the
// failure is the reply message.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	if _, found := st.Get(id); !found {
		http.Error(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	model := req.Model
	if model == "" {
		if sess, found := st.Get(id); found && sess.Model != "" {
			model = sess.Model
		} else {
			model = st.DefaultModel()
		}
	}
	opts := chat.Options{WebSearch: req.WebSearch, ModelLabel: chat.DefaultLabel}
	if h.Labels != nil {
		opts.ModelLabel = h.Labels.Label(r.Context(), model, chat.DefaultLabel)
	}

	res, err := h.Dispatcher.Send(context.WithoutCancel(r.Context()), st, id, req.Text, model, opts)
	if err != nil {
		sessionError(w, err)
		return
	}
	out := SendMessageResponse{Sent: res.Sent, SessionID: res.SessionID, View: st.Snapshot()}
	if res.Sent {
		out.Reply = &chatMessage{Sender: res.Reply.Sender, Content: res.Reply.Content}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ChatHandler) Export(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	sess, found := st.Get(mux.Vars(r)["id"])
	if !found {
		http.Error(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	exporter, err := export.For(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(sess, exporter)+`"`)
	if err := exporter.Export(sess, w); err != nil {
		logrus.WithError(err).WithField("session", sess.ID).Warn("export failed")
	}
}

func (h *ChatHandler) Save(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	sess, found := st.Get(mux.Vars(r)["id"])
	if !found {
		http.Error(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	saved, err := h.Archive.Save(r.Context(), sess)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *ChatHandler) ListSaved(w http.ResponseWriter, r *http.Request) {
	saved, err := h.Archive.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *ChatHandler) OpenSaved(w http.ResponseWriter, r *http.Request) {
	st, ok := h.store(w, r)
	if !ok {
		return
	}
	saved, err := h.Archive.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sessionError(w, err)
		return
	}
	sess, err := st.OpenSaved(r.Context(), saved)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *ChatHandler) DeleteSaved(w http.ResponseWriter, r *http.Request) {
	if err := h.Archive.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write response")
	}
}
