package viewport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/experience-degrader/internal/logic"
)

func dialHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(nil, 8)
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { hub.Close() })

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return hub, ws
}

func TestHubReceivesSamples(t *testing.T) {
	hub, ws := dialHub(t)

	err := ws.WriteJSON(map[string]any{
		"type":          "viewport",
		"scroll_y":      420,
		"scroll_height": 3000,
		"inner_height":  900,
	})
	require.NoError(t, err)

	select {
	case s := <-hub.Samples():
		assert.Equal(t, Sample{ScrollY: 420, ScrollHeight: 3000, InnerHeight: 900}, s)
	case <-time.After(time.Second):
		t.Fatal("no sample received")
	}
}

func TestHubIgnoresOtherMessageTypes(t *testing.T) {
	hub, ws := dialHub(t)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "hello", "scroll_y": 1}))
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "viewport", "scroll_y": 2, "scroll_height": 10, "inner_height": 5}))

	select {
	case s := <-hub.Samples():
		assert.Equal(t, 2.0, s.ScrollY)
	case <-time.After(time.Second):
		t.Fatal("no sample received")
	}
}

func TestHubScrollTo(t *testing.T) {
	hub, ws := dialHub(t)

	require.NoError(t, hub.ScrollTo(0))

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "scroll_to", msg.Type)
	require.NotNil(t, msg.Top)
	assert.Equal(t, 0.0, *msg.Top)
}

func TestHubBroadcastState(t *testing.T) {
	hub, ws := dialHub(t)

	s := logic.InitialState()
	s.Level = 0.5
	s.Phase = logic.PhaseChaotic
	require.NoError(t, hub.Broadcast(StateMessage(s)))

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, "chaotic", msg.Phase)
	assert.Equal(t, "50%", msg.CSSVars["--degradation-percent"])
}

func TestHubCloseClosesSamples(t *testing.T) {
	hub := NewHub(nil, 1)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, ok := <-hub.Samples()
	assert.False(t, ok)

	// Late pushes after close are dropped, not panics.
	hub.push(Sample{ScrollY: 1})
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(nil, 1)
	defer hub.Close()

	hub.push(Sample{ScrollY: 1})
	hub.push(Sample{ScrollY: 2})

	s := <-hub.Samples()
	assert.Equal(t, 1.0, s.ScrollY)
	select {
	case <-hub.Samples():
		t.Fatal("second sample should have been dropped")
	default:
	}
}

func TestSampleViewport(t *testing.T) {
	s := Sample{ScrollY: 1, ScrollHeight: 2, InnerHeight: 3}
	assert.Equal(t, logic.Viewport{ScrollY: 1, ScrollHeight: 2, InnerHeight: 3}, s.Viewport())
}
