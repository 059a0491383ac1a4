package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/secret"
)

// KeyStore keeps the OpenRouter API key. *secret.Store satisfies it.
type KeyStore interface {
	StoreCredential(ctx context.Context, apiKey string) error
	LoadCredential(ctx context.Context) (string, bool, error)
	ClearCredential(ctx context.Context) error
}

type StoreKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// KeyHandler answers the API key messages.
type KeyHandler struct {
	Keys KeyStore
}

func (h *KeyHandler) Register(r *messaging.Router) {
	messaging.On(r, "STORE_API_KEY", h.StoreKey)
	messaging.On(r, "GET_API_KEY", h.GetKey)
	messaging.On(r, "CLEAR_API_KEY", h.ClearKey)
}

func (h *KeyHandler) StoreKey(ctx context.Context, from messaging.Sender, req StoreKeyRequest) (messaging.Response, error) {
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		return nil, errors.New("apiKey is required")
	}
	if err := h.Keys.StoreCredential(ctx, key); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"tab": from.TabID, "fingerprint": secret.Fingerprint(key)}).Debug("API key updated from page")
	return messaging.Success(), nil
}

// GetKey answers {apiKey: null} when nothing is stored. A key that no
// longer decrypts is an error, never null.
func (h *KeyHandler) GetKey(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	key, found, err := h.Keys.LoadCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return messaging.Response{"apiKey": nil}, nil
	}
	return messaging.Response{"apiKey": key}, nil
}

func (h *KeyHandler) ClearKey(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	if err := h.Keys.ClearCredential(ctx); err != nil {
		return nil, err
	}
	logrus.WithField("tab", from.TabID).Info("API key cleared")
	return messaging.Success(), nil
}
