package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/metrics"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/middleware"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/widget"
)

const maxMessageBody = 64 * 1024

// MessageHandler is the HTTP entry point to the message router.
type MessageHandler struct {
	Router *messaging.Router
}

// Post answers one message. The body is the message itself, with its
// "type" field; the answer is the handler's response object.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from := messaging.Sender{TabID: middleware.TabID(r.Context())}
	done := make(chan messaging.Response, 1)
	h.Router.Serve(context.WithoutCancel(r.Context()), from, raw, func(resp messaging.Response) {
		done <- resp
	})
	writeJSON(w, http.StatusOK, <-done)
}

type PositionRequest struct {
	Position models.Position `json:"position"`
}

type ThemeRequest struct {
	DarkMode bool `json:"darkMode"`
}

type MetricRequest struct {
	Metric models.Metric `json:"metric"`
}

type DragStartRequest struct {
	Mode widget.Mode `json:"mode"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
}

type DragMoveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PanelHandler answers the panel geometry, theme and metric messages.
type PanelHandler struct {
	Storage storage.Store
	Widgets *widget.Registry
	Metrics *metrics.Recorder
}

func (h *PanelHandler) Register(r *messaging.Router) {
	messaging.On(r, "SAVE_POSITION", h.SavePosition)
	messaging.On(r, "GET_POSITION", h.GetPosition)
	messaging.On(r, "TRACK_METRIC", h.TrackMetric)
	messaging.On(r, "SET_THEME", h.SetTheme)
	messaging.On(r, "GET_THEME", h.GetTheme)
	messaging.On(r, "DRAG_START", h.DragStart)
	messaging.On(r, "DRAG_MOVE", h.DragMove)
	messaging.On(r, "DRAG_END", h.DragEnd)
	messaging.On(r, "DRAG_CANCEL", h.DragCancel)
}

func (h *PanelHandler) SavePosition(ctx context.Context, from messaging.Sender, req PositionRequest) (messaging.Response, error) {
	if err := h.Widgets.ForTab(from.TabID).SavePosition(ctx, req.Position); err != nil {
		return nil, err
	}
	return messaging.Success(), nil
}

func (h *PanelHandler) GetPosition(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	pos, err := h.Widgets.ForTab(from.TabID).Position(ctx)
	if err != nil {
		return nil, err
	}
	return messaging.Response{"position": pos}, nil
}

func (h *PanelHandler) TrackMetric(ctx context.Context, from messaging.Sender, req MetricRequest) (messaging.Response, error) {
	if err := h.Metrics.Track(ctx, req.Metric); err != nil {
		return nil, err
	}
	return messaging.Success(), nil
}

func (h *PanelHandler) SetTheme(ctx context.Context, from messaging.Sender, req ThemeRequest) (messaging.Response, error) {
	if err := h.Storage.Set(ctx, storage.Local, storage.KeyDarkMode, req.DarkMode); err != nil {
		return nil, err
	}
	return messaging.Success(), nil
}

func (h *PanelHandler) GetTheme(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	var dark bool
	if _, err := h.Storage.Get(ctx, storage.Local, storage.KeyDarkMode, &dark); err != nil {
		return nil, err
	}
	return messaging.Response{"darkMode": dark}, nil
}

func (h *PanelHandler) DragStart(ctx context.Context, from messaging.Sender, req DragStartRequest) (messaging.Response, error) {
	g, err := h.Widgets.ForTab(from.TabID).Begin(ctx, req.Mode, models.Position{X: req.X, Y: req.Y})
	if err != nil {
		return nil, err
	}
	return messaging.Response{"success": true, "mode": g.Mode()}, nil
}

func (h *PanelHandler) gesture(from messaging.Sender) (*widget.Gesture, error) {
	g, ok := h.Widgets.ForTab(from.TabID).Active()
	if !ok {
		return nil, errors.New("no gesture in progress")
	}
	return g, nil
}

func (h *PanelHandler) DragMove(ctx context.Context, from messaging.Sender, req DragMoveRequest) (messaging.Response, error) {
	g, err := h.gesture(from)
	if err != nil {
		return nil, err
	}
	u, err := g.Move(models.Position{X: req.X, Y: req.Y})
	if err != nil {
		return nil, err
	}
	return messaging.Response{"success": true, "position": u.Position, "size": u.Size}, nil
}

func (h *PanelHandler) DragEnd(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	g, err := h.gesture(from)
	if err != nil {
		return nil, err
	}
	u, err := g.End(ctx)
	if err != nil {
		return nil, err
	}
	return messaging.Response{"success": true, "position": u.Position, "size": u.Size}, nil
}

func (h *PanelHandler) DragCancel(ctx context.Context, from messaging.Sender, _ struct{}) (messaging.Response, error) {
	h.Widgets.ForTab(from.TabID).Reset()
	return messaging.Success(), nil
}

// decodeBody is shared by handlers that accept an optional JSON body.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
