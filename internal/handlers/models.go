package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/catalog"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/interceptor"
)

type ModelHandler struct {
	Catalog     *catalog.Directory
	Credentials interceptor.CredentialSource
}

type SelectModelRequest struct {
	Model string `json:"model"`
}

type SelectedModelResponse struct {
	Model    string `json:"model"`
	Selected bool   `json:"selected"`
}

// ListModels returns the model directory filtered by the provider, query,
// max_latency and max_cost query parameters.
func (h *ModelHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list := h.Catalog.List(r.Context(), h.apiKey(r.Context()))
	writeJSON(w, http.StatusOK, catalog.Filter(list, criteria))
}

func (h *ModelHandler) apiKey(ctx context.Context) string {
	if h.Credentials == nil {
		return ""
	}
	key, found, err := h.Credentials.LoadCredential(ctx)
	if err != nil {
		logrus.WithError(err).Warn("could not load API key for model listing")
		return ""
	}
	if !found {
		return ""
	}
	return key
}

func criteriaFrom(r *http.Request) (catalog.Criteria, error) {
	q := r.URL.Query()
	c := catalog.Criteria{Provider: q.Get("provider"), Query: q.Get("query")}
	if v := q.Get("max_latency"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, err
		}
		c.MaxLatency = f
	}
	if v := q.Get("max_cost"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, err
		}
		c.MaxCost = f
	}
	return c, nil
}

func (h *ModelHandler) GetSelected(w http.ResponseWriter, r *http.Request) {
	id, ok, err := h.Catalog.Selected(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SelectedModelResponse{Model: id, Selected: ok})
}

func (h *ModelHandler) SetSelected(w http.ResponseWriter, r *http.Request) {
	var req SelectModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if err := h.Catalog.Select(r.Context(), req.Model); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SelectedModelResponse{Model: req.Model, Selected: true})
}
