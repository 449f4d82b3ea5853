package process

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestDefaultReady(t *testing.T) {
	assert.True(t, DefaultReady.MatchString("Server has started..."))
	assert.True(t, DefaultReady.MatchString(`{"message":"server started","data":{"port":8080}}`))
	assert.False(t, DefaultReady.MatchString("server starting"))
}

func TestStart_WaitsForReadyLine(t *testing.T) {
	var out syncBuffer
	p, err := Start(context.Background(), Spec{
		Args:           []string{"sh", "-c", "echo warming up; echo 'Server has started...' >&2; exec sleep 30"},
		StartupTimeout: 10 * time.Second,
		StopTimeout:    2 * time.Second,
	}, log.New(&out, "[sut] ", 0))
	require.NoError(t, err)
	assert.Contains(t, p.Tail(), "Server has started...")

	require.NoError(t, p.Stop())
	select {
	case <-p.Done():
	default:
		t.Fatalf("process still running after Stop")
	}
	assert.Contains(t, out.String(), "[sut] warming up")
}

func TestStart_ExitBeforeReady(t *testing.T) {
	_, err := Start(context.Background(), Spec{
		Args:           []string{"sh", "-c", "echo bad config; exit 3"},
		StartupTimeout: 10 * time.Second,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before ready")
	assert.Contains(t, err.Error(), "bad config")
}

func TestStart_Timeout(t *testing.T) {
	start := time.Now()
	_, err := Start(context.Background(), Spec{
		Args:           []string{"sh", "-c", "exec sleep 30"},
		StartupTimeout: 200 * time.Millisecond,
		StopTimeout:    time.Second,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStart_EmptyCommand(t *testing.T) {
	_, err := Start(context.Background(), Spec{}, nil)
	assert.Error(t, err)
}
