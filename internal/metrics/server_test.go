package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesRegistry(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "")
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	BuffersFree.Set(7)
	SockoptCallsTotal.WithLabelValues("set", "ip", "ok").Inc()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "netcore_buffers_free 7")
	assert.Contains(t, string(body), `netcore_sockopt_calls_total{level="ip",op="set",result="ok"}`)
}

func TestServerStopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/metrics").Stop(context.Background()))
}
