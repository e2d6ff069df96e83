package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"realtime-whiteboard/internal/session"
	"realtime-whiteboard/internal/session/sessiontest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(t *testing.T, limit int) (*session.Session, *sessiontest.Conn) {
	t.Helper()
	conn := sessiontest.NewConn()
	s := session.New(conn, "board-1", session.Identity{UserID: "u1", Name: "Ann"}, limit)
	return s, conn
}

func TestStateMachine(t *testing.T) {
	s, conn := newSession(t, 4)

	assert.Equal(t, session.StateConnecting, s.State())
	assert.NotEmpty(t, s.ID)

	require.True(t, s.MarkJoined())
	assert.Equal(t, session.StateJoined, s.State())
	assert.False(t, s.MarkJoined(), "joined only once")

	require.True(t, s.BeginClose())
	assert.Equal(t, session.StateClosing, s.State())
	assert.False(t, s.BeginClose())
	assert.False(t, s.MarkJoined(), "no way back from closing")

	s.Close()
	assert.Equal(t, session.StateClosed, s.State())
	assert.True(t, conn.Closed())

	s.Close()
	assert.Equal(t, session.StateClosed, s.State())
}

func TestClose_FromConnectingPassesThroughClosing(t *testing.T) {
	s, _ := newSession(t, 4)

	s.Close()
	assert.Equal(t, session.StateClosed, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	s, _ := newSession(t, 2)

	require.NoError(t, s.Enqueue([]byte("a")))
	require.NoError(t, s.Enqueue([]byte("b")))
	assert.ErrorIs(t, s.Enqueue([]byte("c")), session.ErrQueueFull)
}

func TestEnqueue_AfterCloseIsAnError(t *testing.T) {
	s, _ := newSession(t, 2)
	s.Close()
	assert.ErrorIs(t, s.Enqueue([]byte("a")), session.ErrSessionClosed)

	s2, _ := newSession(t, 2)
	s2.BeginClose()
	assert.ErrorIs(t, s2.Enqueue([]byte("a")), session.ErrSessionClosed)
}

func TestEnqueue_ConcurrentWithClose(t *testing.T) {
	s, _ := newSession(t, 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Enqueue([]byte("x"))
			}
		}()
	}
	s.Close()
	wg.Wait()

	assert.ErrorIs(t, s.Enqueue([]byte("x")), session.ErrSessionClosed)
}

func TestWritePump_DeliversInOrder(t *testing.T) {
	s, conn := newSession(t, 8)

	done := make(chan error, 1)
	go func() { done <- s.WritePump(session.PumpConfig{HeartbeatInterval: time.Hour}, nil) }()

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, s.Enqueue([]byte(m)))
	}

	require.Eventually(t, func() bool { return len(conn.Messages()) == 3 }, time.Second, 5*time.Millisecond)
	msgs := conn.Messages()
	assert.Equal(t, "one", string(msgs[0]))
	assert.Equal(t, "three", string(msgs[2]))

	s.Close()
	assert.NoError(t, <-done)
}

func TestWritePump_HeartbeatKeepsLiveConnection(t *testing.T) {
	s, conn := newSession(t, 8)

	var ticks int
	var mu sync.Mutex
	done := make(chan error, 1)
	go func() {
		done <- s.WritePump(session.PumpConfig{HeartbeatInterval: 10 * time.Millisecond}, func() {
			mu.Lock()
			ticks++
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool { return conn.Pings() >= 5 }, time.Second, 5*time.Millisecond)
	assert.False(t, conn.Closed())

	s.Close()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, ticks, 5)
}

func TestWritePump_TerminatesWithoutPong(t *testing.T) {
	s, conn := newSession(t, 8)
	conn.SetAutoPong(false)

	start := time.Now()
	err := s.WritePump(session.PumpConfig{HeartbeatInterval: 20 * time.Millisecond}, nil)

	assert.ErrorIs(t, err, session.ErrHeartbeatTimeout)
	assert.True(t, conn.Closed())
	assert.Equal(t, 1, conn.Pings())
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadPump_ForwardsUntilClosed(t *testing.T) {
	s, conn := newSession(t, 8)

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.ReadPump(func(data []byte) { got <- string(data) })
	}()

	conn.Send([]byte("a"))
	conn.Send([]byte("b"))
	assert.Equal(t, "a", <-got)
	assert.Equal(t, "b", <-got)

	s.Terminate()
	assert.Error(t, <-done)
	s.Close()
}

func TestCursor(t *testing.T) {
	s, _ := newSession(t, 1)
	s.SetCursor(3, 4)
	x, y := s.Cursor()
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", session.StateConnecting.String())
	assert.Equal(t, "joined", session.StateJoined.String())
	assert.Equal(t, "closing", session.StateClosing.String())
	assert.Equal(t, "closed", session.StateClosed.String())
	assert.Equal(t, "unknown", session.State(42).String())
}
