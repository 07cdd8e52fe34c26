package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerClient_RoundTrip(t *testing.T) {
	srv := NewServer("127.0.0.1:18734")
	srv.AddTool("echo", func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := NewClient("http://127.0.0.1:18734/sse")
	require.NoError(t, client.Connect(context.Background()))

	result, err := client.Call(context.Background(), "echo", map[string]any{"x": float64(1)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": float64(1)}, result)
}

func TestClient_UnknownToolSurfacesError(t *testing.T) {
	srv := NewServer("127.0.0.1:18735")
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := NewClient("http://127.0.0.1:18735/sse")
	_, err := client.Call(context.Background(), "missing", nil)
	require.Error(t, err)
}
