package internal

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/clock"
	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/journal"
	"github.com/sweeney/experience-degrader/internal/logic"
	"github.com/sweeney/experience-degrader/internal/mqtt"
	"github.com/sweeney/experience-degrader/internal/status"
	"github.com/sweeney/experience-degrader/internal/viewport"
	"github.com/sweeney/experience-degrader/internal/web"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// stack is the daemon wired the way the command wires it, with fakes at
// the edges.
type stack struct {
	eng     *engine.Engine
	clock   *clock.Fake
	src     *viewport.FakeSource
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	journal *journal.Journal
	ts      *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{
		clock:   clock.NewFake(startTime),
		src:     viewport.NewFakeSource(8),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(startTime, status.Config{HTTPAddr: ":0", NativeScroll: true}),
	}

	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	s.journal = j

	s.eng = engine.New(
		engine.WithClock(s.clock),
		engine.WithSeed(1),
		engine.WithViewport(s.src),
		engine.WithObserver(s.tracker),
		engine.WithObserver(mqtt.NewObserver(s.pub, zap.NewNop())),
		engine.WithObserver(j),
	)
	s.tracker.Update(s.eng.Session(), s.eng.Snapshot())

	srv := web.New(":0", s.tracker, s.eng, web.WithJournal(j))
	s.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(s.ts.Close)
	t.Cleanup(s.eng.StopTimeTracking)
	return s
}

func (s *stack) post(t *testing.T, path, body string) status.StatusInner {
	t.Helper()
	resp, err := http.Post(s.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "POST %s", path)

	var out status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Status
}

func (s *stack) get(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := http.Get(s.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "GET %s", path)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// bottomOut scrolls the native viewport to the bottom n times and waits
// for each loop to be answered with a scroll back to the top.
func (s *stack) bottomOut(t *testing.T, n int) {
	t.Helper()
	want := len(s.src.ScrollTos()) + n
	for range n {
		s.src.Push(
			viewport.Sample{ScrollY: 400, ScrollHeight: 2000, InnerHeight: 1000},
			viewport.Sample{ScrollY: 995, ScrollHeight: 2000, InnerHeight: 1000},
		)
	}
	require.Eventually(t, func() bool {
		return len(s.src.ScrollTos()) == want
	}, 2*time.Second, 5*time.Millisecond)
}

// TestIntegrationFullFlow drives the engine from native scroll, the HTTP
// API and the clock, and checks every observer saw the same story.
func TestIntegrationFullFlow(t *testing.T) {
	s := newStack(t)

	st := s.post(t, "/api/tracking/start", "")
	assert.True(t, st.Active)

	s.bottomOut(t, 2)
	assert.Equal(t, 2, s.eng.ScrollLoops())

	// 2 native + 8 damage loops = 0.25 plus a little distance: glitching
	st = s.post(t, "/api/damage", `{"amount":8}`)
	assert.Equal(t, 10, st.Scroll.Loops)
	assert.Equal(t, string(logic.PhaseGlitching), st.Phase)
	assert.True(t, st.Transitioning)
	require.NotNil(t, st.Transition)
	assert.Equal(t, string(logic.PhasePristine), st.Transition.From)
	assert.Equal(t, string(logic.PhaseGlitching), st.Transition.To)
	assert.NotEmpty(t, st.Transition.Message)

	s.clock.Advance(logic.TransitionDuration)

	var got status.StatusJSON
	s.get(t, "/index.json", &got)
	assert.False(t, got.Status.Transitioning)
	assert.Equal(t, string(logic.PhaseGlitching), got.Status.Phase)
	assert.Equal(t, 3, got.Status.TimeSpent)
	assert.Equal(t, s.eng.Session(), got.Status.Session)

	// MQTT saw the loops, the transition and its settlement
	types := s.pub.EventTypes()
	assert.Contains(t, types, logic.EventScrollLoop)
	assert.Contains(t, types, logic.EventScrollReset)
	assert.Contains(t, types, logic.EventPhaseTransition)
	assert.Contains(t, types, logic.EventTransitionSettled)
	require.NotEmpty(t, s.pub.States)
	assert.Equal(t, logic.PhaseGlitching, s.pub.States[len(s.pub.States)-1].State.Phase)

	// The journal recorded the same events
	var events struct {
		Events []journal.Entry `json:"events"`
	}
	s.get(t, "/events.json?limit=100", &events)
	assert.Len(t, events.Events, len(types))
	var sources []string
	var transition *journal.Entry
	for i, e := range events.Events {
		assert.Equal(t, s.eng.Session(), e.Session)
		if e.Type == string(logic.EventScrollLoop) {
			sources = append(sources, e.Source)
		}
		if e.Type == string(logic.EventPhaseTransition) {
			transition = &events.Events[i]
		}
	}
	assert.ElementsMatch(t, []string{"native", "native", "damage"}, sources)
	require.NotNil(t, transition)
	assert.Equal(t, string(logic.PhasePristine), transition.From)
	assert.Equal(t, string(logic.PhaseGlitching), transition.To)
}

func TestIntegrationResetStartsNewSession(t *testing.T) {
	s := newStack(t)
	s.post(t, "/api/tracking/start", "")
	s.post(t, "/api/damage", `{"amount":40}`)
	first := s.eng.Session()

	st := s.post(t, "/api/reset", "")
	assert.NotEqual(t, first, st.Session)
	assert.Equal(t, string(logic.PhasePristine), st.Phase)
	assert.Zero(t, st.Level)
	assert.False(t, st.Active)
	assert.Equal(t, 0, s.clock.Pending(), "reset cancels every timer")

	types := s.pub.EventTypes()
	assert.Equal(t, logic.EventReset, types[len(types)-1])
	last := s.pub.States[len(s.pub.States)-1]
	assert.Equal(t, st.Session, last.Session)
	assert.Equal(t, logic.PhasePristine, last.State.Phase)

	old, err := s.journal.BySession(t.Context(), first)
	require.NoError(t, err)
	assert.NotEmpty(t, old)
	fresh, err := s.journal.BySession(t.Context(), st.Session)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, string(logic.EventReset), fresh[0].Type)
}

func TestIntegrationStopSettlesEverything(t *testing.T) {
	s := newStack(t)
	s.post(t, "/api/tracking/start", "")
	s.clock.Advance(5 * time.Second)
	// 14 loops = 0.35, unstable
	s.post(t, "/api/damage", `{"amount":14}`)

	st := s.post(t, "/api/tracking/stop", "")
	assert.False(t, st.Active)
	assert.False(t, st.Transitioning)
	assert.Equal(t, string(logic.PhaseUnstable), st.Phase)
	assert.Equal(t, 0, s.clock.Pending())

	// A stopped engine ignores the clock
	s.clock.Advance(time.Minute)
	assert.Equal(t, 5, s.eng.TimeSpent())

	resp, err := http.Get(s.ts.URL + "/degradation.css")
	require.NoError(t, err)
	defer resp.Body.Close()
	css, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(css), ":root {")
	assert.Contains(t, string(css), "--degradation-level")
}

func TestIntegrationMQTTOutageDoesNotStopEngine(t *testing.T) {
	s := newStack(t)
	s.pub.PublishError = assert.AnError

	s.post(t, "/api/tracking/start", "")
	st := s.post(t, "/api/damage", `{"amount":40}`)
	assert.Equal(t, string(logic.PhaseChaotic), st.Phase)
	assert.Empty(t, s.pub.Events)

	entries, err := s.journal.Recent(t.Context(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "journal keeps recording while MQTT is down")
}
