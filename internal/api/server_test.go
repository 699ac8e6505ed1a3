package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/hn-mirror/internal/clock/system"
	"github.com/JakeFAU/hn-mirror/internal/item"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeMirror struct {
	items    map[item.ID]*item.Item
	top      []item.ID
	resolves atomic.Int64
	panicOn  item.ID
}

func (m *fakeMirror) TopStories() []*item.Item {
	var out []*item.Item
	for _, id := range m.top {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (m *fakeMirror) Resolve(_ context.Context, id item.ID) (*item.Item, bool) {
	m.resolves.Add(1)
	if m.panicOn != 0 && id == m.panicOn {
		panic("boom")
	}
	return m.Lookup(id)
}

func (m *fakeMirror) Lookup(id item.ID) (*item.Item, bool) {
	it, ok := m.items[id]
	return it, ok
}

type fakeReady bool

func (r fakeReady) Published() bool { return bool(r) }

func ptr[T any](v T) *T { return &v }

func newFakeMirror() *fakeMirror {
	created := testNow.Add(-3 * time.Hour).Unix()
	return &fakeMirror{
		top: []item.ID{100, 200},
		items: map[item.ID]*item.Item{
			100: {
				ID: 100, Kind: item.KindStory, Author: ptr("pg"), CreatedAt: &created,
				Title: ptr("Show HN: a mirror"), URL: ptr("https://github.com/example/mirror"),
				Score: 42, Descendants: 2, Kids: []item.ID{101, 102},
			},
			101: {ID: 101, Kind: item.KindComment, Author: ptr("dang"), Text: ptr("nice"), Kids: []item.ID{103}},
			102: {ID: 102, Kind: item.KindComment, Deleted: true},
			103: {ID: 103, Kind: item.KindComment, Author: ptr("tptacek"), Text: ptr("agreed")},
		},
	}
}

func newTestServer(mirror *fakeMirror, ready bool) *Server {
	return NewServer(mirror, fakeReady(ready), system.Fixed(testNow), Config{}, zap.NewNop())
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(newFakeMirror(), false), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusServiceUnavailable, serve(newTestServer(newFakeMirror(), false), "/readyz").Code)
	require.Equal(t, http.StatusOK, serve(newTestServer(newFakeMirror(), true), "/readyz").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeMirror(), true)
	serve(s, "/healthz")
	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_TopStories(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(newFakeMirror(), true), "/v1/top")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stories []struct {
			ID         uint64 `json:"id"`
			Title      string `json:"title"`
			DisplayURL string `json:"display_url"`
			HNURL      string `json:"hn_url"`
			Age        string `json:"age"`
			Score      int    `json:"score"`
		} `json:"stories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Stories, 1, "uncached top ids are dropped")
	story := body.Stories[0]
	require.Equal(t, uint64(100), story.ID)
	require.Equal(t, "Show HN: a mirror", story.Title)
	require.Equal(t, "github.com/example/mirror", story.DisplayURL)
	require.Equal(t, "https://news.ycombinator.com/item?id=100", story.HNURL)
	require.Equal(t, "3 hours ago", story.Age)
	require.Equal(t, 42, story.Score)
}

func TestServer_TopStoriesEmpty(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	mirror.top = nil
	rec := serve(newTestServer(mirror, false), "/v1/top")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"stories":[]}`, rec.Body.String())
}

func TestServer_GetItem(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(newFakeMirror(), true), "/v1/items/100")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Item struct {
			ID uint64 `json:"id"`
		} `json:"item"`
		Comments []struct {
			ID      uint64 `json:"id"`
			By      string `json:"by"`
			Depth   int    `json:"depth"`
			Replies []struct {
				ID    uint64 `json:"id"`
				Depth int    `json:"depth"`
			} `json:"replies"`
		} `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, uint64(100), body.Item.ID)
	require.Len(t, body.Comments, 1, "deleted comment is skipped")
	require.Equal(t, uint64(101), body.Comments[0].ID)
	require.Equal(t, "dang", body.Comments[0].By)
	require.Len(t, body.Comments[0].Replies, 1)
	require.Equal(t, uint64(103), body.Comments[0].Replies[0].ID)
	require.Equal(t, 1, body.Comments[0].Replies[0].Depth)
}

func TestServer_GetItem_InvalidID(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	s := newTestServer(mirror, true)
	for _, path := range []string{"/v1/items/abc", "/v1/items/-1", "/v1/items/1.5"} {
		rec := serve(s, path)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.JSONEq(t, `{"error":"invalid item id"}`, rec.Body.String())
	}
	require.Zero(t, mirror.resolves.Load(), "no fetch for malformed ids")
}

func TestServer_GetItem_NotFound(t *testing.T) {
	t.Parallel()

	mirror := newFakeMirror()
	rec := serve(newTestServer(mirror, true), "/v1/items/999")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"item not found"}`, rec.Body.String())
	require.Equal(t, int64(1), mirror.resolves.Load())
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	mirror := newFakeMirror()
	mirror.panicOn = 7
	s := NewServer(mirror, fakeReady(true), system.Fixed(testNow), Config{}, zap.New(core))

	rec := serve(s, "/v1/items/7")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := newTestServer(newFakeMirror(), true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
