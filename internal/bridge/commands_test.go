package bridge

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

func newTestExecutor(api *fakeAPI) (*CommandExecutor, *Synchronizer, *recordingProjection) {
	s, r := newTestSync(api, false)
	e := NewCommandExecutor(api, &fakeTokens{token: "tok"}, s, zap.NewNop())
	return e, s, r
}

// seed runs one poll so the binding has a last known state.
func seed(t *testing.T, s *Synchronizer, api *fakeAPI, statusID int) {
	t.Helper()
	api.status = wallbox.StatusSnapshot{StatusID: statusID, MaxChargingCurrent: 32}
	_, err := s.Poll(context.Background(), 42)
	require.NoError(t, err)
}

func TestSetLockedCommits(t *testing.T) {
	api := &fakeAPI{}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 178)

	err := e.SetLocked(context.Background(), 42, true)
	require.NoError(t, err)

	assert.Equal(t, 1, api.lockCalls)
	assert.True(t, api.lastLocked)
	assert.True(t, r.locked)

	b, _ := s.Binding(42)
	st, ok := b.LastState()
	require.True(t, ok)
	assert.True(t, st.Locked)
}

func TestSetLockedFaultShortCircuit(t *testing.T) {
	api := &fakeAPI{}
	e, s, _ := newTestExecutor(api)
	seed(t, s, api, 14)

	err := e.SetLocked(context.Background(), 42, true)
	assert.ErrorIs(t, err, ErrDeviceFault)
	assert.Equal(t, 0, api.lockCalls)
}

func TestSetLockedForbiddenStillCommits(t *testing.T) {
	api := &fakeAPI{lockErr: &wallbox.HTTPError{Op: "set_lock", Code: http.StatusForbidden}}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 178)

	err := e.SetLocked(context.Background(), 42, true)
	require.NoError(t, err)
	assert.True(t, r.locked)

	b, _ := s.Binding(42)
	st, _ := b.LastState()
	assert.True(t, st.Locked)
}

func TestSetLockedVendorErrorReverts(t *testing.T) {
	api := &fakeAPI{lockErr: &wallbox.HTTPError{Op: "set_lock", Code: http.StatusInternalServerError}}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 178)

	err := e.SetLocked(context.Background(), 42, true)
	require.Error(t, err)
	assert.False(t, r.locked, "projection reverted to pre-command value")

	b, _ := s.Binding(42)
	st, _ := b.LastState()
	assert.False(t, st.Locked)
}

func TestSetChargingActiveResumesFromStandby(t *testing.T) {
	api := &fakeAPI{}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 178)

	err := e.SetChargingActive(context.Background(), 42, true)
	require.NoError(t, err)

	assert.Equal(t, 1, api.actionCalls)
	assert.Equal(t, wallbox.ActionResume, api.lastAction)
	assert.True(t, r.switchOn)
}

func TestSetChargingActivePausesWhileCharging(t *testing.T) {
	api := &fakeAPI{}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 194)

	err := e.SetChargingActive(context.Background(), 42, false)
	require.NoError(t, err)

	assert.Equal(t, wallbox.ActionPause, api.lastAction)
	assert.False(t, r.switchOn)
}

func TestSetChargingActiveSilentRevertWhenLocked(t *testing.T) {
	for _, statusID := range []int{209, 210, 161} {
		api := &fakeAPI{}
		e, s, r := newTestExecutor(api)
		seed(t, s, api, statusID)

		err := e.SetChargingActive(context.Background(), 42, true)
		require.NoError(t, err, "illegal mode reverts without error")
		assert.Equal(t, 0, api.actionCalls, "status %d must not reach the vendor", statusID)
		assert.False(t, r.switchOn, "status %d reverted", statusID)
	}
}

func TestSetMaxAmpsCommits(t *testing.T) {
	api := &fakeAPI{}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 194)

	err := e.SetMaxAmps(context.Background(), 42, 24)
	require.NoError(t, err)

	assert.Equal(t, 1, api.currentCalls)
	assert.Equal(t, 24.0, api.lastAmps)
	assert.Equal(t, 24.0, r.displayAmps)
}

func TestSetMaxAmpsSilentRevertWhenNotActive(t *testing.T) {
	api := &fakeAPI{}
	e, s, r := newTestExecutor(api)
	seed(t, s, api, 209)

	err := e.SetMaxAmps(context.Background(), 42, 24)
	require.NoError(t, err)
	assert.Equal(t, 0, api.currentCalls)
	assert.Equal(t, 32.0, r.displayAmps, "reverted to the polled value")
}

func TestCommandUnboundCharger(t *testing.T) {
	api := &fakeAPI{}
	e, _, _ := newTestExecutor(api)

	err := e.SetLocked(context.Background(), 99, true)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
