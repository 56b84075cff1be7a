package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const eventsPage1 = `{
  "events": [
    {"Event": {"Id": "101", "MonitorId": "3", "StartDateTime": "2024-05-01 12:00:00", "EndDateTime": null,
               "Length": "0.00", "Frames": "0", "AlarmFrames": "0", "TotScore": "0", "AvgScore": "0", "MaxScore": "0",
               "Notes": "Motion: Driveway"}},
    {"Event": {"Id": "102", "MonitorId": "3", "StartDateTime": "not a date", "EndDateTime": null}}
  ],
  "pagination": {"page": 1, "pageCount": 2, "count": 3, "limit": 2}
}`

const eventsPage2 = `{
  "events": [
    {"Event": {"Id": 103, "MonitorId": 4, "StartDateTime": "2024-05-01 11:58:00", "EndDateTime": "2024-05-01 11:59:30",
               "Length": 90.5, "Frames": 900, "AlarmFrames": 45, "TotScore": 1200, "AvgScore": 26, "MaxScore": 88,
               "Notes": "Motion: Porch"}}
  ],
  "pagination": {"page": 2, "pageCount": 2, "count": 3, "limit": 2}
}`

func TestHTTPEventSource_FetchEvents_PaginatesAndSkipsMalformed(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events.json", r.URL.Path)
		q := r.URL.Query()
		queries = append(queries, q.Get("start_from"))
		assert.Equal(t, "secret", q.Get("token"))
		assert.Equal(t, "America/New_York", q.Get("tz"))
		assert.Equal(t, "StartDateTime", q.Get("sort"))
		assert.Equal(t, "asc", q.Get("direction"))
		w.Header().Set("Content-Type", "application/json")
		if q.Get("page") == "1" {
			fmt.Fprint(w, eventsPage1)
			return
		}
		fmt.Fprint(w, eventsPage2)
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, Token: "secret", RateLimit: 100, PageLimit: 2}, zap.NewNop())

	windowStart := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)
	batch, err := src.FetchEvents(context.Background(), windowStart, loc)
	require.NoError(t, err)
	assert.False(t, batch.Truncated)
	events := batch.Events

	require.Len(t, queries, 2)
	assert.Equal(t, "2024-05-01 11:30:00", queries[0], "window start is formatted in the source timezone")

	require.Len(t, events, 2)
	open := events[0]
	assert.Equal(t, "101", open.EventID)
	assert.Equal(t, "3", open.SourceID)
	assert.True(t, open.IsOpen())
	assert.True(t, open.StartTime.Equal(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)))

	closed := events[1]
	assert.Equal(t, "103", closed.EventID)
	assert.Equal(t, "4", closed.SourceID)
	require.NotNil(t, closed.EndTime)
	assert.Equal(t, 90*time.Second, closed.EndTime.Sub(closed.StartTime))
	assert.Equal(t, 90.5, closed.Duration)
	assert.Equal(t, 900, closed.Frames)
	assert.Equal(t, 45, closed.AlarmFrames)
	assert.Equal(t, 88, closed.MaxScore)
}

func TestHTTPEventSource_FetchKnownSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/monitors.json", r.URL.Path)
		fmt.Fprint(w, `{"monitors": [
			{"Monitor": {"Id": "3", "Name": "Driveway", "Function": "Modect", "Enabled": "1"}},
			{"Monitor": {"Id": "4", "Name": "Porch", "Function": "None", "Enabled": "1"}},
			{"Monitor": {"Id": "", "Name": "Broken"}},
			{"Monitor": {"Id": 5, "Name": "Garage", "Function": "Mocord", "Enabled": 0}}
		]}`)
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 100}, zap.NewNop())
	sources, err := src.FetchKnownSources(context.Background())
	require.NoError(t, err)

	require.Len(t, sources, 3)
	assert.Equal(t, "3", sources[0].SourceID)
	assert.True(t, sources[0].Enabled)
	assert.False(t, sources[1].Enabled, "function None disables the monitor")
	assert.Equal(t, "5", sources[2].SourceID)
	assert.False(t, sources[2].Enabled)
}

func TestHTTPEventSource_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 100}, zap.NewNop())
	_, err := src.FetchEvents(context.Background(), time.Now(), time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPEventSource_NonJSONBodyIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Please log in</body></html>")
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 100}, zap.NewNop())
	_, err := src.FetchEvents(context.Background(), time.Now(), time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text/html")

	_, err = src.FetchKnownSources(context.Background())
	require.Error(t, err)
}

func TestHTTPEventSource_PageLimitMarksTruncated(t *testing.T) {
	const pageCount = maxPages + 1
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		w.Header().Set("Content-Type", "application/json")
		var event string
		switch page {
		case "1":
			event = `{"Id": "1", "MonitorId": "3", "StartDateTime": "2024-05-01 12:00:00", "EndDateTime": "2024-05-01 13:00:00"}`
		case fmt.Sprint(pageCount):
			event = `{"Id": "B", "MonitorId": "4", "StartDateTime": "2024-05-01 12:10:00", "EndDateTime": null}`
		default:
			event = fmt.Sprintf(`{"Id": "s%s", "MonitorId": "5", "StartDateTime": "2024-05-01 12:05:00", "EndDateTime": "2024-05-01 12:05:10"}`, page)
		}
		fmt.Fprintf(w, `{"events": [{"Event": %s}], "pagination": {"page": %s, "pageCount": %d, "count": %d, "limit": 1}}`,
			event, page, pageCount, pageCount)
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 1000, PageLimit: 1}, zap.NewNop())
	batch, err := src.FetchEvents(context.Background(), time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), time.UTC)
	require.NoError(t, err)

	assert.True(t, batch.Truncated)
	assert.Len(t, requested, maxPages)
	require.Len(t, batch.Events, maxPages)
	for _, e := range batch.Events {
		assert.NotEqual(t, "B", e.EventID)
	}
}

func TestHTTPEventSource_DeadlineAfterFirstPageMarksTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, eventsPage1)
	}))
	defer server.Close()

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 100, Timeout: 10 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	batch, err := src.FetchEvents(ctx, time.Now(), time.UTC)
	require.NoError(t, err)
	assert.True(t, batch.Truncated)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "101", batch.Events[0].EventID)
}

func TestHTTPEventSource_NotConfigured(t *testing.T) {
	src := NewHTTPEventSource(Options{}, zap.NewNop())

	_, err := src.FetchEvents(context.Background(), time.Now(), time.UTC)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = src.FetchKnownSources(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHTTPEventSource_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	src := NewHTTPEventSource(Options{BaseURL: server.URL, RateLimit: 100, Timeout: 10 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := src.FetchEvents(ctx, time.Now(), time.UTC)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestZmValue_Conversions(t *testing.T) {
	assert.Equal(t, 12, zmValue("12").Int())
	assert.Equal(t, 12, zmValue("12.7").Int())
	assert.Equal(t, 0, zmValue("").Int())
	assert.Equal(t, 1.5, zmValue("1.5").Float())
	assert.Equal(t, float64(0), zmValue("x").Float())
}
