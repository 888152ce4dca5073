package ambient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemperature(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"+10°C", 10},
		{"-3°C", -3},
		{"+0°C\n", 0},
		{" 15.5°C ", 15.5},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTemperature(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ParseTemperature("Unknown location; please try ~55.7,37.6")
	assert.True(t, errors.HasCode(err, ErrParseFailed))
}

func weatherServer(t *testing.T, body string, status int) (*httptest.Server, *string) {
	t.Helper()
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path + "?format=" + r.URL.Query().Get("format")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &path
}

func TestTemperature(t *testing.T) {
	srv, path := weatherServer(t, "+10°C", http.StatusOK)
	c := New(Config{URL: srv.URL, City: "Berlin"})

	got, err := c.Temperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
	assert.Equal(t, "/Berlin?format=%t", *path)

	last, ok := c.Last()
	assert.True(t, ok)
	assert.Equal(t, 10.0, last)
}

func TestTemperatureFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   errors.ErrorCode
	}{
		{"bad status", "", http.StatusServiceUnavailable, ErrBadStatus},
		{"garbage", "<html>", http.StatusOK, ErrParseFailed},
		{"implausible", "+300°C", http.StatusOK, ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := weatherServer(t, tt.body, tt.status)
			c := New(Config{URL: srv.URL})

			_, err := c.Temperature(context.Background())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))

			_, ok := c.Last()
			assert.False(t, ok)
		})
	}
}

func TestTemperatureUnreachable(t *testing.T) {
	srv, _ := weatherServer(t, "", http.StatusOK)
	srv.Close()

	_, err := New(Config{URL: srv.URL}).Temperature(context.Background())
	assert.True(t, errors.HasCode(err, ErrRequestFailed))
}

func TestLocate(t *testing.T) {
	loc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Kazan","country":"RU"}`))
	}))
	defer loc.Close()

	c := New(Config{City: "Moscow", Locate: true, LocateURL: loc.URL})
	assert.Equal(t, "Kazan", c.Locate(context.Background()))
	assert.Equal(t, "Kazan", c.City())
}

func TestLocateFallsBack(t *testing.T) {
	loc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer loc.Close()

	c := New(Config{City: "Moscow", Locate: true, LocateURL: loc.URL})
	assert.Equal(t, "Moscow", c.Locate(context.Background()))
}

func TestLocateDisabled(t *testing.T) {
	c := New(Config{City: "Oslo", LocateURL: "http://127.0.0.1:0"})
	assert.Equal(t, "Oslo", c.Locate(context.Background()))
}
