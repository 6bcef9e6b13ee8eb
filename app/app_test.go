package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/blaze/config"
	"github.com/searchktools/blaze/core"
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Port = 0
	cfg.Workers = 2
	cfg.AdminAddr = "127.0.0.1:0"
	return cfg
}

func rawGet(t *testing.T, addr, path string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, "GET "+path+" HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func TestAppServes(t *testing.T) {
	a, err := New(testConfig(), testr.New(t))
	require.NoError(t, err)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	addr := a.Engine().Addr().String()
	assert.True(t, strings.HasSuffix(rawGet(t, addr, "/hello"), "\r\n\r\nHello World!"))
	assert.Contains(t, rawGet(t, addr, "/stats"), `"accepted":`)

	resp, err := http.Get("http://" + a.Admin().Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `blaze_requests_total{outcome="ok"}`)
	assert.Contains(t, string(body), "blaze_request_duration_seconds")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestAppBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// engine port taken
	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	a, err := New(cfg, testr.New(t))
	require.NoError(t, err)
	var be *core.BindError
	assert.ErrorAs(t, a.Listen(), &be)

	// admin port taken
	cfg = testConfig()
	cfg.AdminAddr = ln.Addr().String()
	a, err = New(cfg, testr.New(t))
	require.NoError(t, err)
	err = a.Listen()
	require.ErrorAs(t, err, &be)
	assert.Equal(t, cfg.AdminAddr, be.Addr)
}

func TestRunStopsOnContext(t *testing.T) {
	cfg := testConfig()
	cfg.AdminAddr = ""
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, Run(ctx, cfg, testr.New(t)))
}
