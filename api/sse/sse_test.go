package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nightfeed/mazeshow/cache"
	"github.com/nightfeed/mazeshow/config"
	"github.com/nightfeed/mazeshow/live"
	mw "github.com/nightfeed/mazeshow/middleware"
	"github.com/nightfeed/mazeshow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

var testSec = config.SecurityConfig{
	JWTSecret:      "sse-test-secret",
	JWTTTL:         time.Hour,
	AllowedOrigins: []string{"https://overlay.example"},
}

func newServer(t *testing.T) (*httptest.Server, *live.Publisher, cache.Cache) {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	pub := live.NewPublisher(c, ps, 0, 10, nil)
	h := NewHandler(pub, testSec, nil)
	h.SetKeepalive(20 * time.Millisecond)

	r := gin.New()
	r.GET("/sse", mw.ObserverAuth(testSec, c), h.ServeSSE)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, pub, c
}

type event struct {
	name string
	data string
}

// readEvent returns the next named event, skipping keepalive comments.
func readEvent(t *testing.T, r *bufio.Reader) event {
	t.Helper()
	var ev event
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func decode(t *testing.T, data string) live.Update {
	t.Helper()
	var u live.Update
	require.NoError(t, json.Unmarshal([]byte(data), &u))
	return u
}

func TestServeSSE_StreamsScoresUntilFinished(t *testing.T) {
	srv, pub, c := newServer(t)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, live.Update{Arena: "a1", Viewers: 1, Version: 1}))
	token, _, err := mw.IssueToken(ctx, testSec, c, "a1")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/sse?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	ev := readEvent(t, r)
	assert.Equal(t, "connected", ev.name)
	assert.JSONEq(t, `{"arena":"a1"}`, ev.data)

	ev = readEvent(t, r)
	assert.Equal(t, "score", ev.name)
	assert.Equal(t, uint64(1), decode(t, ev.data).Version)

	require.NoError(t, pub.Publish(ctx, live.Update{Arena: "a1", Viewers: 2, Version: 2}))
	require.NoError(t, pub.Publish(ctx, live.Update{Arena: "other", Version: 9}))
	ev = readEvent(t, r)
	assert.Equal(t, "score", ev.name)
	assert.Equal(t, uint64(2), decode(t, ev.data).Version)

	require.NoError(t, pub.Publish(ctx, live.Update{Arena: "a1", Viewers: 2, Version: 2, Finished: true}))
	ev = readEvent(t, r)
	assert.Equal(t, "finished", ev.name)
	assert.True(t, decode(t, ev.data).Finished)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.NotContains(t, string(rest), "event:")
}

func TestServeSSE_Keepalive(t *testing.T) {
	srv, _, c := newServer(t)
	token, _, err := mw.IssueToken(context.Background(), testSec, c, "quiet")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/sse?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readEvent(t, r).name)

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == ": keepalive\n" {
			return
		}
	}
}

func TestServeSSE_RequiresToken(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeSSE_RejectsForeignOrigin(t *testing.T) {
	srv, _, c := newServer(t)
	token, _, err := mw.IssueToken(context.Background(), testSec, c, "a1")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeSSE_FinishedArenaClosesImmediately(t *testing.T) {
	srv, pub, c := newServer(t)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, live.Update{Arena: "done", Version: 3, Finished: true}))
	token, _, err := mw.IssueToken(ctx, testSec, c, "done")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/sse?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readEvent(t, r).name)
	assert.Equal(t, "finished", readEvent(t, r).name)
}
