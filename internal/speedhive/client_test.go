package speedhive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTiming serves a roster and per-competitor details. status overrides the
// answer for specific competitor ids.
type fakeTiming struct {
	roster  string
	details map[string]string
	status  map[string]int
	delay   map[string]time.Duration
	hits    atomic.Int32
	headers atomic.Value // http.Header of the last request
}

func (f *fakeTiming) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.headers.Store(r.Header.Clone())

	switch {
	case strings.HasSuffix(r.URL.Path, "/events/100/sessions/200/data"):
		if code, ok := f.status["roster"]; ok {
			w.WriteHeader(code)
			return
		}
		fmt.Fprint(w, f.roster)
	case strings.Contains(r.URL.Path, "/events/100/sessions/200/competitor/"):
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if d, ok := f.delay[id]; ok {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if code, ok := f.status[id]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := f.details[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

const threeRoster = `{"l":[{"id":1,"nam":"Alice"},{"id":2,"nam":"Bob"},{"id":"3","nam":"Carol"}]}`

func threeDetails() map[string]string {
	return map[string]string{
		"1": `{"results":[{"lsTm":"1:05.432"},{"lsTm":"1:04.900"},{"btTm":"1:04.900"},{"btTm":"9:99.999"}]}`,
		"2": `{"results":[{"lsTm":"bogus"},{"lsTm":"1:06.000","btTm":"1:06.000"}]}`,
		"3": `{"results":[]}`,
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second, Concurrency: 2})
}

func TestFetchSession_AllPresent(t *testing.T) {
	fake := &fakeTiming{roster: threeRoster, details: threeDetails()}
	client := newTestClient(t, fake)

	snap, err := client.FetchSession(context.Background(), "100", "200")
	require.NoError(t, err)

	assert.Equal(t, "100", snap.EventID)
	assert.Equal(t, "200", snap.SessionID)
	assert.Empty(t, snap.Missing)
	require.Len(t, snap.Competitors, 3)

	alice := snap.Competitors[0]
	assert.Equal(t, "1", alice.ID)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, []string{"1:05.432", "1:04.900"}, alice.RawLapTimes)
	assert.True(t, alice.HasBestTime)
	assert.Equal(t, "1:04.900", alice.BestTimeRaw, "first btTm wins")

	bob := snap.Competitors[1]
	assert.Equal(t, []string{"bogus", "1:06.000"}, bob.RawLapTimes, "fetcher keeps raw strings")
	assert.Equal(t, "1:06.000", bob.BestTimeRaw)

	carol := snap.Competitors[2]
	assert.Equal(t, "3", carol.ID)
	assert.Empty(t, carol.RawLapTimes)
	assert.False(t, carol.HasBestTime)

	assert.Equal(t, int32(4), fake.hits.Load())
}

func TestFetchSession_SendsRequiredHeaders(t *testing.T) {
	fake := &fakeTiming{roster: `{"l":[]}`}
	client := newTestClient(t, fake)

	_, err := client.FetchSession(context.Background(), "100", "200")
	require.NoError(t, err)

	h := fake.headers.Load().(http.Header)
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.Equal(t, DefaultOrigin, h.Get("Origin"))
	assert.Equal(t, DefaultReferer, h.Get("Referer"))
}

func TestFetchSession_SkipsNotFound(t *testing.T) {
	fake := &fakeTiming{
		roster:  threeRoster,
		details: threeDetails(),
		status:  map[string]int{"2": http.StatusNotFound},
	}
	client := newTestClient(t, fake)

	snap, err := client.FetchSession(context.Background(), "100", "200")
	require.NoError(t, err)

	require.Len(t, snap.Competitors, 2)
	assert.Equal(t, "Alice", snap.Competitors[0].Name)
	assert.Equal(t, "Carol", snap.Competitors[1].Name)
	assert.Equal(t, []string{"2"}, snap.Missing)
}

func TestFetchSession_ServerErrorAbortsWholeFetch(t *testing.T) {
	fake := &fakeTiming{
		roster:  threeRoster,
		details: threeDetails(),
		status:  map[string]int{"2": http.StatusInternalServerError},
	}
	client := newTestClient(t, fake)

	snap, err := client.FetchSession(context.Background(), "100", "200")
	require.Error(t, err)
	assert.Empty(t, snap.Competitors, "no partial snapshot")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "competitor", fe.Op)
	assert.Equal(t, "2", fe.CompetitorID)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestFetchSession_RosterFailureIsFatal(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusBadGateway, http.StatusForbidden} {
		fake := &fakeTiming{roster: threeRoster, details: threeDetails(), status: map[string]int{"roster": code}}
		client := newTestClient(t, fake)

		_, err := client.FetchSession(context.Background(), "100", "200")
		require.Error(t, err, code)

		var fe *FetchError
		require.True(t, errors.As(err, &fe), code)
		assert.Equal(t, "roster", fe.Op)
		assert.Equal(t, int32(1), fake.hits.Load(), "no competitor requests after roster failure")
	}
}

func TestFetchSession_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: base, Timeout: time.Second})
	_, err := client.FetchSession(context.Background(), "100", "200")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "roster", fe.Op)
}

func TestFetchSession_MalformedDetailAborts(t *testing.T) {
	details := threeDetails()
	details["3"] = `{"results": nope}`
	fake := &fakeTiming{roster: threeRoster, details: details}
	client := newTestClient(t, fake)

	_, err := client.FetchSession(context.Background(), "100", "200")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "3", fe.CompetitorID)
}

func TestFetchSession_KeepsRosterOrderUnderConcurrency(t *testing.T) {
	fake := &fakeTiming{
		roster:  threeRoster,
		details: threeDetails(),
		delay:   map[string]time.Duration{"1": 80 * time.Millisecond},
	}
	client := newTestClient(t, fake)

	snap, err := client.FetchSession(context.Background(), "100", "200")
	require.NoError(t, err)
	require.Len(t, snap.Competitors, 3)
	assert.Equal(t, "Alice", snap.Competitors[0].Name)
	assert.Equal(t, "Bob", snap.Competitors[1].Name)
	assert.Equal(t, "Carol", snap.Competitors[2].Name)
}

func TestFetchSession_DuplicateNamesSurvive(t *testing.T) {
	fake := &fakeTiming{
		roster: `{"l":[{"id":1,"nam":"Sam"},{"id":2,"nam":"Sam"}]}`,
		details: map[string]string{
			"1": `{"results":[{"lsTm":"10.000"}]}`,
			"2": `{"results":[{"lsTm":"11.000"}]}`,
		},
	}
	client := newTestClient(t, fake)

	snap, err := client.FetchSession(context.Background(), "100", "200")
	require.NoError(t, err)
	require.Len(t, snap.Competitors, 2)
	assert.Equal(t, "1", snap.Competitors[0].ID)
	assert.Equal(t, "2", snap.Competitors[1].ID)
}

func TestFetchSession_RequestTimeout(t *testing.T) {
	fake := &fakeTiming{
		roster:  threeRoster,
		details: threeDetails(),
		delay:   map[string]time.Duration{"2": 2 * time.Second},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/api", Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := client.FetchSession(context.Background(), "100", "200")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{StatusCode: 503, URL: "http://x/y"}
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "Service Unavailable")
}
