package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func TestBarkNotifierPostsQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/devicekey/")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "Morning finished", "succeeded 2 / failed 0"))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/devicekey", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "Morning finished", q.Get("title"))
	assert.Equal(t, "succeeded 2 / failed 0", q.Get("body"))
	assert.Equal(t, "coworkerbot", q.Get("group"))
}

func TestBarkNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	err = n.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestNewBarkNotifierEmpty(t *testing.T) {
	_, err := NewBarkNotifier("  / ")
	assert.Error(t, err)
}

func TestMultiNotifierContinuesAfterFailure(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	m := NewMultiNotifier(failing, ok)

	err := m.Send(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"title"}, ok.titles)
	assert.Equal(t, 2, m.Len())
}

func TestThrottledDropsOverLimit(t *testing.T) {
	next := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	th := NewThrottled(next, 2, logger)

	require.NoError(t, th.Send(context.Background(), "1", ""))
	require.NoError(t, th.Send(context.Background(), "2", ""))
	err := th.Send(context.Background(), "3", "")
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, []string{"1", "2"}, next.titles)
}

func TestThrottledUnlimited(t *testing.T) {
	next := &recordingNotifier{}
	th := NewThrottled(next, 0, nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, th.Send(context.Background(), "x", ""))
	}
	assert.Len(t, next.titles, 20)
}
