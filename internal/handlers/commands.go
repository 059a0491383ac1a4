package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/ws"
)

const (
	CommandToggleExtension = "toggle-extension"
	CommandClearCache      = "clear-cache"
)

type CommandRequest struct {
	// TabID targets a tab; empty means the active one.
	TabID string `json:"tab_id"`
}

type CommandHandler struct {
	Hub     *ws.Hub
	Storage storage.Store
	// Resync re-applies the header rules after local storage is wiped.
	Resync func(ctx context.Context) error
}

func (h *CommandHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch name := mux.Vars(r)["name"]; name {
	case CommandToggleExtension:
		tab := req.TabID
		if tab == "" {
			active, ok := h.Hub.ActiveTab()
			if !ok {
				http.Error(w, "no active page", http.StatusConflict)
				return
			}
			tab = active
		}
		h.Hub.Push(tab, ws.EventToggleExtension, nil)
		writeJSON(w, http.StatusOK, map[string]string{"tab_id": tab})

	case CommandClearCache:
		if err := h.Storage.Clear(r.Context(), storage.Local); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if h.Resync != nil {
			if err := h.Resync(r.Context()); err != nil {
				logrus.WithError(err).Warn("header rule resync after clear failed")
			}
		}
		logrus.Info("local storage cleared")
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unknown command "+name, http.StatusNotFound)
	}
}
