package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/ws"
)

func runCommand(h *CommandHandler, name, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/commands/"+name, bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"name": name})
	rr := httptest.NewRecorder()
	h.Run(rr, req)
	return rr
}

func TestClearCacheCommand(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, storage.Local, storage.KeyDragPosition, map[string]int{"x": 1}))
	require.NoError(t, st.Set(ctx, storage.PageArea("tab-1"), storage.KeyActiveSessions, map[string]int{}))

	resynced := 0
	h := &CommandHandler{Storage: st, Resync: func(context.Context) error { resynced++; return nil }}

	rr := runCommand(h, CommandClearCache, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, resynced)

	keys, err := st.Keys(ctx, storage.Local)
	require.NoError(t, err)
	assert.Empty(t, keys)
	// Page areas survive.
	keys, err = st.Keys(ctx, storage.PageArea("tab-1"))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestToggleExtensionWithoutPage(t *testing.T) {
	hub := ws.NewHub(messaging.NewRouter())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	h := &CommandHandler{Hub: hub, Storage: newStorage(t)}
	rr := runCommand(h, CommandToggleExtension, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = runCommand(h, CommandToggleExtension, `{"tab_id":"tab-9"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tab_id":"tab-9"}`, rr.Body.String())
}

func TestUnknownCommand(t *testing.T) {
	h := &CommandHandler{Storage: newStorage(t)}
	rr := runCommand(h, "self-destruct", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = runCommand(h, CommandClearCache, "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
