package session

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/models"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage/sqlstore"
)

func newStorage(t *testing.T) storage.Store {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func requireDense(t *testing.T, v View) {
	t.Helper()
	for i, s := range v.Sessions {
		require.Equal(t, i+1, s.Number)
		require.Equal(t, models.TitleFor(i+1), s.Title)
	}
}

func TestCreateAndCloseScenario(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	first, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "Chat 1", first.Title)
	assert.Equal(t, DefaultModel, first.Model)
	assert.True(t, strings.HasPrefix(first.ID, "session-"))

	second, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, second.ID, s.Snapshot().ActiveID)

	require.NoError(t, s.Close(ctx, first.ID))
	v := s.Snapshot()
	require.Len(t, v.Sessions, 1)
	assert.Equal(t, second.ID, v.Sessions[0].ID)
	assert.Equal(t, 1, v.Sessions[0].Number)
	assert.Equal(t, "Chat 1", v.Sessions[0].Title)
}

func TestCloseLastSessionRecreates(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	only, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, only.ID))

	v := s.Snapshot()
	require.Len(t, v.Sessions, 1)
	assert.NotEqual(t, only.ID, v.Sessions[0].ID)
	assert.Equal(t, v.Sessions[0].ID, v.ActiveID)
	assert.Equal(t, 1, v.Sessions[0].Number)
}

func TestCloseActivePicksLowestSurvivor(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	a, _ := s.Create(ctx)
	b, _ := s.Create(ctx)
	c, _ := s.Create(ctx)
	require.NoError(t, s.Switch(ctx, b.ID))
	require.NoError(t, s.Close(ctx, b.ID))

	v := s.Snapshot()
	assert.Equal(t, a.ID, v.ActiveID)
	assert.Equal(t, []string{a.ID, c.ID}, []string{v.Sessions[0].ID, v.Sessions[1].ID})
	requireDense(t, v)

	// Closing an inactive session keeps the pointer.
	require.NoError(t, s.Close(ctx, c.ID))
	assert.Equal(t, a.ID, s.Snapshot().ActiveID)
}

func TestNumbersStayDenseUnderRandomOps(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		v := s.Snapshot()
		if len(v.Sessions) == 0 || rng.Intn(3) > 0 {
			_, err := s.Create(ctx)
			require.NoError(t, err)
		} else {
			victim := v.Sessions[rng.Intn(len(v.Sessions))]
			require.NoError(t, s.Close(ctx, victim.ID))
			after := s.Snapshot()
			require.NotEmpty(t, after.Sessions)
			_, ok := after.Active()
			require.True(t, ok)
		}
		requireDense(t, s.Snapshot())
	}
}

func TestCloseKeepsCreationOrder(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, _ := s.Create(ctx)
		ids = append(ids, sess.ID)
	}
	require.NoError(t, s.Close(ctx, ids[1]))
	require.NoError(t, s.Close(ctx, ids[3]))

	v := s.Snapshot()
	got := []string{}
	for _, sess := range v.Sessions {
		got = append(got, sess.ID)
	}
	assert.Equal(t, []string{ids[0], ids[2], ids[4]}, got)
}

func TestSwitchUnknown(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	assert.ErrorIs(t, s.Switch(context.Background(), "nope"), ErrNotFound)
	assert.ErrorIs(t, s.Close(context.Background(), "nope"), ErrNotFound)
	assert.ErrorIs(t, s.SetModel(context.Background(), "nope", "m"), ErrNotFound)
	assert.ErrorIs(t, s.AppendTo(context.Background(), "nope", "You", "x"), ErrNotFound)
}

func TestAppendCreatesWhenNoneActive(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	id, err := s.Append(ctx, "You", "hello")
	require.NoError(t, err)

	sess, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, sess.Number)
	assert.Equal(t, []models.Message{{Sender: "You", Content: "hello"}}, sess.Messages)
}

func TestSetModelOnlyTouchesModel(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"), WithDefaultModel("a/b"))
	ctx := context.Background()

	sess, _ := s.Create(ctx)
	assert.Equal(t, "a/b", sess.Model)
	_, err := s.Append(ctx, "You", "hi")
	require.NoError(t, err)
	require.NoError(t, s.SetModel(ctx, sess.ID, "openai/gpt-4o"))

	got, _ := s.Get(sess.ID)
	assert.Equal(t, "openai/gpt-4o", got.Model)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, sess.Number, got.Number)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()
	id, _ := s.Append(ctx, "You", "original")

	v := s.Snapshot()
	v.Sessions[0].Messages[0].Content = "mutated"

	got, _ := s.Get(id)
	assert.Equal(t, "original", got.Messages[0].Content)
}

func TestPersistRestore(t *testing.T) {
	st := newStorage(t)
	area := storage.PageArea("tab")
	ctx := context.Background()

	s := New(st, area)
	a, _ := s.Create(ctx)
	b, _ := s.Create(ctx)
	require.NoError(t, s.AppendTo(ctx, a.ID, "You", "first"))
	require.NoError(t, s.Switch(ctx, a.ID))
	s.ShowPlaceholder(a.ID, "AI is thinking")

	restored := New(st, area)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	v := restored.Snapshot()
	assert.Equal(t, a.ID, v.ActiveID)
	require.Len(t, v.Sessions, 2)
	assert.Equal(t, a.ID, v.Sessions[0].ID)
	assert.Equal(t, b.ID, v.Sessions[1].ID)
	assert.Equal(t, "first", v.Sessions[0].Messages[0].Content)
	assert.Empty(t, v.Placeholders)
}

func TestRestoreEmptyLeavesStateUntouched(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()

	ok, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot().Sessions)

	sess, err := s.EnsureSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Number)
}

func TestRestoreRenumbersAndRepairsActive(t *testing.T) {
	st := newStorage(t)
	area := storage.PageArea("tab")
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, area, storage.KeyActiveSessions, persisted{
		Sessions: map[string]models.Session{
			"x": {ID: "x", Number: 4, Title: "Chat 4"},
			"y": {ID: "y", Number: 2, Title: "Chat 2"},
		},
		ActiveID: "gone",
	}))

	s := New(st, area)
	ok, err := s.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	v := s.Snapshot()
	requireDense(t, v)
	assert.Equal(t, "y", v.Sessions[0].ID)
	assert.Equal(t, "y", v.ActiveID)
	assert.Equal(t, DefaultModel, v.Sessions[1].Model)
}

func TestPlaceholders(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()
	sess, _ := s.Create(ctx)

	id := s.ShowPlaceholder(sess.ID, "AI is thinking")
	v := s.Snapshot()
	require.Len(t, v.Placeholders, 1)
	assert.Equal(t, "AI is thinking", v.Placeholders[0].Label)

	assert.True(t, s.RemovePlaceholder(id))
	assert.False(t, s.RemovePlaceholder(id))
	assert.Empty(t, s.Snapshot().Placeholders)

	s.ShowPlaceholder(sess.ID, "AI is thinking")
	require.NoError(t, s.Close(ctx, sess.ID))
	assert.Empty(t, s.Snapshot().Placeholders)
}

func TestObserverSeesEveryMutation(t *testing.T) {
	var mu sync.Mutex
	var views []View
	s := New(newStorage(t), storage.PageArea("tab"), WithObserver(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	}))
	ctx := context.Background()

	sess, _ := s.Create(ctx)
	_, _ = s.Append(ctx, "You", "hi")
	_ = s.SetModel(ctx, sess.ID, "m")
	id := s.ShowPlaceholder(sess.ID, "x")
	s.RemovePlaceholder(id)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, views, 5)
	assert.Equal(t, "m", views[2].Sessions[0].Model)
}

func TestOpenSaved(t *testing.T) {
	s := New(newStorage(t), storage.PageArea("tab"))
	ctx := context.Background()
	s.Create(ctx)

	sess, err := s.OpenSaved(ctx, models.SavedChat{
		Model:    "openai/gpt-4o",
		Messages: []models.Message{{Sender: "You", Content: "old"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Number)
	assert.Equal(t, "openai/gpt-4o", sess.Model)
	assert.Equal(t, sess.ID, s.Snapshot().ActiveID)
}

func TestRegistry(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()

	var mu sync.Mutex
	changed := map[string]int{}
	r := NewRegistry(st)
	r.OnChange(func(tabID string, _ View) {
		mu.Lock()
		changed[tabID]++
		mu.Unlock()
	})

	a, err := r.ForTab(ctx, "a")
	require.NoError(t, err)
	again, err := r.ForTab(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Len(t, a.Snapshot().Sessions, 1)

	b, err := r.ForTab(ctx, "b")
	require.NoError(t, err)
	_, err = b.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, a.Snapshot().Sessions, 1)
	assert.Len(t, b.Snapshot().Sessions, 2)
	assert.Equal(t, []string{"a", "b"}, r.Tabs())

	// A forgotten tab comes back from its persisted snapshot.
	r.Forget("b")
	b2, err := r.ForTab(ctx, "b")
	require.NoError(t, err)
	assert.NotSame(t, b, b2)
	assert.Len(t, b2.Snapshot().Sessions, 2)

	mu.Lock()
	assert.Positive(t, changed["a"])
	assert.Positive(t, changed["b"])
	mu.Unlock()

	_, err = r.ForTab(ctx, "")
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	st := newStorage(t)
	ctx := context.Background()
	a := NewArchive(st)
	clock := time.UnixMilli(1000)
	a.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := a.Save(ctx, models.Session{Title: "Chat 1", Model: "m", Messages: []models.Message{{Sender: "You", Content: "x"}}})
	require.NoError(t, err)
	second, err := a.Save(ctx, models.Session{Title: "Chat 2"})
	require.NoError(t, err)

	list, err = a.List(ctx)
	require.NoError(t, err)
	ids := []string{list[0].ID, list[1].ID}
	assert.Equal(t, []string{second.ID, first.ID}, ids)

	got, err := a.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Messages[0].Content)

	require.NoError(t, a.Delete(ctx, first.ID))
	_, err = a.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, a.Delete(ctx, first.ID), ErrNotFound)

	list, _ = a.List(ctx)
	assert.True(t, sort.SliceIsSorted(list, func(i, j int) bool { return list[i].SavedAt > list[j].SavedAt }))
	assert.Len(t, list, 1)
}

func TestObserverSeesViewsInOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		versions []uint64
		last     View
	)
	s := New(newStorage(t), storage.PageArea("tab"), WithObserver(func(v View) {
		mu.Lock()
		versions = append(versions, v.Version)
		last = v
		mu.Unlock()
	}))
	ctx := context.Background()
	sess, err := s.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, s.AppendTo(ctx, sess.ID, "You", "hi"))
			} else {
				s.RemovePlaceholder(s.ShowPlaceholder(sess.ID, "AI is thinking"))
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "view %d delivered out of order", i)
	}
	// The last view delivered is the current state.
	assert.Equal(t, s.Snapshot(), last)
	assert.Len(t, last.Sessions[0].Messages, 10)
	assert.Empty(t, last.Placeholders)
}
