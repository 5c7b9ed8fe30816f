package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/worldland-launcher/internal/config"
)

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServe_RoutesAndShutdown(t *testing.T) {
	withDevices(t)
	log, hook := logtest.NewNullLogger()

	cfg := config.Default()
	cfg.Hostfile = writeFile(t, "hostfile", twoNodes)

	server, err := newSlotServer(&cfg, log)
	require.NoError(t, err)
	assert.Nil(t, server.TLSConfig)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, ln, log) }()

	assert.Equal(t, "OK", get(t, base+"/health"))
	assert.Contains(t, get(t, base+"/slots/status"), `"master":"node-a"`)

	resp, err := http.Post(base+"/slots/allocate", "application/json", strings.NewReader(`{"count":3}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics := get(t, base+"/metrics")
	assert.Contains(t, metrics, `launcher_slots_used{node="node-a",type="gpu"} 3`)
	assert.Contains(t, metrics, `launcher_slot_allocations_total{result="ok",type="gpu"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, "shutdown complete", hook.LastEntry().Message)
}

func TestServe_ListenerErrorIsReturned(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	err = serve(context.Background(), &http.Server{Handler: http.NotFoundHandler()}, ln, log)
	assert.Error(t, err)
}

func TestServe_BadTLSFiles(t *testing.T) {
	withDevices(t)
	log, _ := logtest.NewNullLogger()

	cfg := config.Default()
	cfg.Hostfile = writeFile(t, "hostfile", twoNodes)
	cfg.Serve.TLSCert = "missing.crt"
	cfg.Serve.TLSKey = "missing.key"
	cfg.Serve.TLSCA = "missing-ca.crt"

	_, err := newSlotServer(&cfg, log)
	assert.ErrorContains(t, err, "failed to load key pair")
}
