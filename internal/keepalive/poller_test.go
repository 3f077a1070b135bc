package keepalive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"prashikshan/internal/admin/admintest"
)

func testClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets([]string{
		"api=https://api.example.com",
		"https://scraper.example.com/status",
		" ",
	})
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Name: "api", URL: "https://api.example.com/health"},
		{Name: "scraper.example.com", URL: "https://scraper.example.com/status"},
	}, targets)

	_, err = ParseTargets([]string{"ftp://x"})
	assert.Error(t, err)

	_, err = ParseTargets([]string{"a=http://x", "a=http://y"})
	assert.Error(t, err)
}

func TestPollOnceRecordsStatus(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	targets, err := ParseTargets([]string{"backend=" + ok.URL, "scraper=" + down.URL})
	require.NoError(t, err)

	store := admintest.NewBackend()
	p := NewPoller(targets, time.Minute, time.Second, nil, WithHTTPClient(testClient()), WithStore(store))

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	status := p.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "backend", status[0].Name)
	assert.True(t, status[0].OK)
	assert.Equal(t, 2, status[0].Checks)
	assert.Equal(t, 0, status[0].Failures)

	assert.Equal(t, "scraper", status[1].Name)
	assert.False(t, status[1].OK)
	assert.Equal(t, http.StatusServiceUnavailable, status[1].StatusCode)
	assert.Equal(t, 2, status[1].Failures)

	persisted, err := ReadStatus(context.Background(), store, targets)
	require.NoError(t, err)
	assert.Equal(t, status, persisted)
}

func TestPollerUnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	targets, err := ParseTargets([]string{"gone=" + url})
	require.NoError(t, err)

	p := NewPoller(targets, time.Minute, 200*time.Millisecond, nil, WithHTTPClient(testClient()))
	p.PollOnce(context.Background())

	st := p.Status()[0]
	assert.False(t, st.OK)
	assert.NotEmpty(t, st.Error)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	targets, err := ParseTargets([]string{"svc=" + srv.URL})
	require.NoError(t, err)

	p := NewPoller(targets, 20*time.Millisecond, time.Second, nil, WithHTTPClient(testClient()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

func TestRunWithoutTargetsBlocksUntilCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPoller(nil, 0, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
