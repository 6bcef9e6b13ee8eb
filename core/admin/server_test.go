package admin

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

type fakeStats string

func (s fakeStats) GetPoolStatsJSON() string { return string(s) }

func startServer(t *testing.T, cfg Config) string {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = testr.New(t)
	s := NewServer(cfg)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("admin server did not shut down")
		}
	})
	return "http://" + s.Addr().String()
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestAdminEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "blaze_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	base := startServer(t, Config{Gatherer: reg, Stats: fakeStats(`{"queue":{"depth":0}}`)})

	resp, body := get(t, http.DefaultClient, base+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	resp, body = get(t, http.DefaultClient, base+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "blaze_test_total 3")

	resp, body = get(t, http.DefaultClient, base+"/debug/pools")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"queue":{"depth":0}}`, body)

	resp, _ = get(t, http.DefaultClient, base+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminNoStats(t *testing.T) {
	base := startServer(t, Config{Gatherer: prometheus.NewRegistry()})
	resp, _ := get(t, http.DefaultClient, base+"/debug/pools")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestAdminH2C tests prior-knowledge HTTP/2 over cleartext
func TestAdminH2C(t *testing.T) {
	base := startServer(t, Config{Gatherer: prometheus.NewRegistry()})

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
	resp, body := get(t, client, base+"/healthz")
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, "ok\n", body)
}

func TestAdminListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(Config{Addr: ln.Addr().String()})
	assert.Error(t, s.Listen())
	assert.Nil(t, s.Addr())
}
