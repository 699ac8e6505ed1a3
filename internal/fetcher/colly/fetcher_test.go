package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-mirror/internal/crawler"
	"github.com/JakeFAU/hn-mirror/internal/fetcher"
	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/policy/ratelimit"
)

func newTestServer(t *testing.T, routes map[string]func(http.ResponseWriter)) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func body(s string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(s))
	}
}

func TestFetchItem(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t, map[string]func(http.ResponseWriter){
		"/v0/item/8863.json": body(`{"by":"dhouston","descendants":71,"id":8863,"kids":[8952,9224],` +
			`"score":111,"time":1175714200,"title":"My YC app: Dropbox","type":"story","url":"http://www.getdropbox.com/u/2/screencast.html"}`),
	})
	f := New(Config{BaseURL: srv.URL + "/", UserAgent: "hn-mirror-test"}, nil, nil)

	it, err := f.FetchItem(context.Background(), 8863)
	require.NoError(t, err)
	require.Equal(t, item.ID(8863), it.ID)
	require.Equal(t, item.KindStory, it.Kind)
	require.Equal(t, []item.ID{8952, 9224}, it.Kids)
	require.Equal(t, int64(1), hits.Load(), "exactly one round trip")

	// Revisiting the same URL is a fresh request.
	_, err = f.FetchItem(context.Background(), 8863)
	require.NoError(t, err)
	require.Equal(t, int64(2), hits.Load())
}

func TestFetchTopIDs(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, map[string]func(http.ResponseWriter){
		"/v0/topstories.json": body(`[10, 20, 30]`),
	})
	f := New(Config{BaseURL: srv.URL}, nil, nil)

	ids, err := f.FetchTopIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []item.ID{10, 20, 30}, ids)
}

func TestFetchItem_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, map[string]func(http.ResponseWriter){
		"/v0/item/1.json": body(`null`),
		"/v0/item/2.json": body(`{"id":2,"type":`),
		"/v0/item/3.json": body(`{"id":4,"type":"comment"}`),
		"/v0/item/5.json": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"/v0/item/6.json": body(`{"id":6,"type":"spaceship"}`),
	})
	f := New(Config{BaseURL: srv.URL}, nil, nil)

	testCases := []struct {
		name string
		id   item.ID
		kind fetcher.Kind
	}{
		{"null body", 1, fetcher.KindDecode},
		{"truncated json", 2, fetcher.KindDecode},
		{"id mismatch", 3, fetcher.KindDecode},
		{"server error", 5, fetcher.KindTransport},
		{"unknown kind", 6, fetcher.KindDecode},
		{"not found", 7, fetcher.KindTransport},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			it, err := f.FetchItem(context.Background(), tc.id)
			require.Nil(t, it)
			require.ErrorIs(t, err, crawler.ErrFetch)
			var fe *fetcher.Error
			require.ErrorAs(t, err, &fe)
			require.Equal(t, tc.kind, fe.Kind)
		})
	}
}

func TestFetchItem_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := New(Config{BaseURL: url, Timeout: time.Second}, nil, nil)
	_, err := f.FetchItem(context.Background(), 1)
	require.ErrorIs(t, err, crawler.ErrFetch)
	var fe *fetcher.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, fetcher.KindTransport, fe.Kind)
}

func TestFetchItem_ContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := New(Config{BaseURL: srv.URL}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.FetchItem(ctx, 1)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchItem_RateLimited(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t, map[string]func(http.ResponseWriter){
		"/v0/item/1.json": body(`{"id":1}`),
	})
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: 10, Burst: 1})
	f := New(Config{BaseURL: srv.URL}, limiter, nil)

	start := time.Now()
	for range 3 {
		_, err := f.FetchItem(context.Background(), 1)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Equal(t, int64(3), hits.Load())
}

// TestFetchItem_Concurrent runs many fetches on one Fetcher at once, as the
// frontier crawler does. Run with -race.
func TestFetchItem_Concurrent(t *testing.T) {
	t.Parallel()

	var badAgent atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "hn-mirror-test" {
			badAgent.Add(1)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v0/item/"), ".json")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%s,"type":"comment","by":"u%s"}`, id, id)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{BaseURL: srv.URL, UserAgent: "hn-mirror-test", Timeout: 5 * time.Second}, nil, nil)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(id item.ID) {
			defer wg.Done()
			it, err := f.FetchItem(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			if it.ID != id || it.Author == nil || *it.Author != "u"+id.String() {
				errs <- fmt.Errorf("item %d: got %+v", id, it)
			}
		}(item.ID(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Zero(t, badAgent.Load(), "every request carries the configured user agent")
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	require.Equal(t, DefaultBaseURL+"/v0/topstories.json", f.TopStoriesURL())
	require.Equal(t, DefaultBaseURL+"/v0/item/42.json", f.ItemURL(42))

	var resp response
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &resp)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("[1]")})
	require.Equal(t, http.StatusOK, resp.status)
	require.Equal(t, "[1]", string(resp.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.Equal(t, http.StatusBadGateway, resp.status)
	require.EqualError(t, resp.err, "Bad Gateway")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
