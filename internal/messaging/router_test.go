package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type positionPayload struct {
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
}

func TestDispatchTyped(t *testing.T) {
	r := NewRouter()
	var got positionPayload
	var from Sender
	On(r, "SAVE_POSITION", func(_ context.Context, s Sender, p positionPayload) (Response, error) {
		got, from = p, s
		return Success(), nil
	})

	resp := r.Dispatch(context.Background(), Sender{TabID: "t1"}, json.RawMessage(`{"type":"SAVE_POSITION","position":{"x":10,"y":20}}`))
	assert.Equal(t, Success(), resp)
	assert.Equal(t, 10.0, got.Position.X)
	assert.Equal(t, 20.0, got.Position.Y)
	assert.Equal(t, "t1", from.TabID)
}

func TestDispatchFailures(t *testing.T) {
	r := NewRouter()
	r.Handle("BOOM", func(context.Context, Sender, json.RawMessage) (Response, error) {
		return nil, errors.New("exploded")
	})
	r.Handle("NIL", func(context.Context, Sender, json.RawMessage) (Response, error) {
		return nil, nil
	})
	On(r, "TYPED", func(context.Context, Sender, struct{ N int }) (Response, error) {
		return Success(), nil
	})
	ctx := context.Background()

	cases := map[string]Response{
		`not json`:               Failure(ErrInvalidFormat),
		`{}`:                     Failure(ErrInvalidFormat),
		`{"type":""}`:            Failure(ErrInvalidFormat),
		`{"type":"NOPE"}`:        Failure(ErrUnknownType),
		`{"type":"BOOM"}`:        Failure("exploded"),
		`{"type":"NIL"}`:         Success(),
		`{"type":"TYPED","N":1}`: Success(),
	}
	for raw, want := range cases {
		assert.Equal(t, want, r.Dispatch(ctx, Sender{}, json.RawMessage(raw)), raw)
	}

	resp := r.Dispatch(ctx, Sender{}, json.RawMessage(`{"type":"TYPED","N":"x"}`))
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "decode TYPED payload")
}

func TestServeRespondsExactlyOnce(t *testing.T) {
	r := NewRouter()
	r.Handle("PANIC", func(context.Context, Sender, json.RawMessage) (Response, error) {
		panic("bad handler")
	})
	r.Handle("OK", func(context.Context, Sender, json.RawMessage) (Response, error) {
		return Response{"success": true, "apiKey": nil}, nil
	})

	for _, raw := range []string{`{"type":"PANIC"}`, `{"type":"OK"}`, `{"type":"MISSING"}`, `garbage`} {
		var calls []Response
		r.Serve(context.Background(), Sender{}, json.RawMessage(raw), func(resp Response) {
			calls = append(calls, resp)
		})
		require.Len(t, calls, 1, raw)
	}
}

func TestResponderConcurrent(t *testing.T) {
	var mu sync.Mutex
	count := 0
	res := NewResponder(func(Response) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	delivered := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			delivered <- res.Respond(Success())
		}()
	}
	wg.Wait()
	close(delivered)

	wins := 0
	for d := range delivered {
		if d {
			wins++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, wins)
}

func TestTypes(t *testing.T) {
	r := NewRouter()
	r.Handle("B", nil)
	r.Handle("A", nil)
	assert.Equal(t, []string{"A", "B"}, r.Types())
}
