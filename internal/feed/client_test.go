package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchwatch/config"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.FeedConfig{URL: srv.URL, ListKey: "pools", Timeout: time.Second, UserAgent: "launchwatch-test"}, nil)
}

func TestFetchReturnsRecords(t *testing.T) {
	var gotUA string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		io.WriteString(w, `{"pools":[{"coinType":"0xA::a::A"},{"coinType":"0xB::b::B","marketCap":12.5}]}`)
	})

	records, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "launchwatch-test", gotUA)

	ct, err := records[1].Get("coinType").String()
	require.NoError(t, err)
	assert.Equal(t, "0xB::b::B", ct)
}

func TestFetchMissingListIsEmptyBatch(t *testing.T) {
	for name, body := range map[string]string{
		"missing key": `{"data":[]}`,
		"not array":   `{"pools":{"coinType":"x"}}`,
		"null":        `{"pools":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, body) })
			records, err := c.Fetch(context.Background())
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"not json", func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "<html>oops</html>") }},
		{"truncated", func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, `{"pools":[{"coinType":`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			_, err := c.Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFetch))
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(config.FeedConfig{URL: srv.URL, ListKey: "pools", Timeout: 50 * time.Millisecond}, nil)

	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
}
