package bridge

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

func newTestLive(api *fakeAPI) (*LiveUpdateController, *Synchronizer) {
	s, _ := newTestSync(api, false)
	c := NewLiveUpdateController(s, 20*time.Millisecond, 150*time.Millisecond, zap.NewNop())
	c.debounce = 10 * time.Millisecond
	return c, s
}

func TestLiveWindowPollsUntilTimeout(t *testing.T) {
	api := &fakeAPI{status: wallbox.StatusSnapshot{StatusID: 193}}
	c, _ := newTestLive(api)
	defer c.Shutdown()

	c.Trigger(42)

	// window (150ms) + margin
	time.Sleep(250 * time.Millisecond)

	calls := api.countStatusCalls()
	assert.GreaterOrEqual(t, calls, 2, "window polls repeatedly")

	// window timed out, no further polls
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, api.countStatusCalls())
}

func TestTriggerDebounceCoalesces(t *testing.T) {
	api := &fakeAPI{status: wallbox.StatusSnapshot{StatusID: 193}}
	c, _ := newTestLive(api)
	defer c.Shutdown()

	before := testutil.ToFloat64(metrics.LiveWindows)

	c.Trigger(42)
	c.Trigger(42)
	c.Trigger(42)

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LiveWindows),
		"rapid triggers collapse into one window")
}

func TestTriggerUnderSteadyLoadStillPolls(t *testing.T) {
	api := &fakeAPI{status: wallbox.StatusSnapshot{StatusID: 193}}
	c, _ := newTestLive(api)
	defer c.Shutdown()

	before := testutil.ToFloat64(metrics.LiveWindows)

	// a stream of triggers faster than the debounce interval, as a UI
	// hammering the status endpoint produces
	for i := 0; i < 10; i++ {
		c.Trigger(42)
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.LiveWindows), before+1,
		"the first trigger opens a window immediately")
	assert.GreaterOrEqual(t, api.countStatusCalls(), 1,
		"polling starts despite continuous triggers")
}

func TestShutdownStopsOpenWindows(t *testing.T) {
	api := &fakeAPI{status: wallbox.StatusSnapshot{StatusID: 193}}
	c, _ := newTestLive(api)

	c.Trigger(42)
	time.Sleep(50 * time.Millisecond)

	c.Shutdown()
	calls := api.countStatusCalls()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, api.countStatusCalls(), "no polls after shutdown")
}
