package bridge

import (
	"context"
	"sync"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

// fakeTokens satisfies tokenSource and sessionSource.
type fakeTokens struct {
	token   string
	session wallbox.Session
	err     error
}

func (f *fakeTokens) EnsureValidToken(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) SignIn(ctx context.Context) (wallbox.Session, error) {
	if f.err != nil {
		return wallbox.Session{}, f.err
	}
	return f.session, nil
}

// fakeAPI satisfies statusFetcher, commandAPI and discoveryAPI, recording
// every call it receives.
type fakeAPI struct {
	mu sync.Mutex

	emailStatus string
	userID      string
	user        wallbox.UserInfo
	groups      []wallbox.ChargerGroup
	models      []wallbox.ChargerModel
	status      wallbox.StatusSnapshot
	statusErr   error
	data        wallbox.ChargerData
	dataErr     error
	config      wallbox.ChargerConfig

	statusCalls  int
	lockCalls    int
	currentCalls int
	actionCalls  int
	lastLocked   bool
	lastAmps     float64
	lastAction   wallbox.RemoteAction

	lockErr    error
	currentErr error
	actionErr  error
}

func (f *fakeAPI) CheckEmail(ctx context.Context, email string) (string, error) {
	return f.emailStatus, nil
}

func (f *fakeAPI) GetUserID(ctx context.Context, token, id string) (string, error) {
	return f.userID, nil
}

func (f *fakeAPI) GetUser(ctx context.Context, token, userID string) (wallbox.UserInfo, error) {
	return f.user, nil
}

func (f *fakeAPI) GetChargerGroups(ctx context.Context, token string) ([]wallbox.ChargerGroup, error) {
	return f.groups, nil
}

func (f *fakeAPI) GetChargerModels(ctx context.Context, token string, groupID int) ([]wallbox.ChargerModel, error) {
	return f.models, nil
}

func (f *fakeAPI) GetChargerStatus(ctx context.Context, token string, chargerID int) (wallbox.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return wallbox.StatusSnapshot{}, f.statusErr
	}
	return f.status, nil
}

func (f *fakeAPI) GetChargerData(ctx context.Context, token string, chargerID int) (wallbox.ChargerData, error) {
	if f.dataErr != nil {
		return wallbox.ChargerData{}, f.dataErr
	}
	return f.data, nil
}

func (f *fakeAPI) GetChargerConfig(ctx context.Context, token string, chargerID int) (wallbox.ChargerConfig, error) {
	return f.config, nil
}

func (f *fakeAPI) SetLock(ctx context.Context, token string, chargerID int, locked bool) (wallbox.ChargerData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls++
	f.lastLocked = locked
	if f.lockErr != nil {
		return wallbox.ChargerData{}, f.lockErr
	}
	d := f.data
	d.Locked = locked
	return d, nil
}

func (f *fakeAPI) SetMaxCurrent(ctx context.Context, token string, chargerID int, amps float64) (wallbox.ChargerData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	f.lastAmps = amps
	if f.currentErr != nil {
		return wallbox.ChargerData{}, f.currentErr
	}
	d := f.data
	d.MaxChargingCurrent = amps
	return d, nil
}

func (f *fakeAPI) RemoteAction(ctx context.Context, token string, chargerID int, action wallbox.RemoteAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionCalls++
	f.lastAction = action
	return f.actionErr
}

func (f *fakeAPI) countStatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

// recordingProjection implements every projection interface and keeps the
// last pushed values.
type recordingProjection struct {
	mu sync.Mutex

	locked       bool
	fault        bool
	switchOn     bool
	outletOn     bool
	outletInUse  bool
	thermoActive bool
	displayAmps  float64
	charging     bool
	percent      int
	low          bool
	sensor       int

	lockWrites   int
	switchWrites int
}

func (r *recordingProjection) UpdateLock(locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = locked
	r.lockWrites++
}

func (r *recordingProjection) SetFault(fault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = fault
}

func (r *recordingProjection) UpdateSwitch(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switchOn = on
	r.switchWrites++
}

func (r *recordingProjection) UpdateOutlet(on, inUse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outletOn = on
	r.outletInUse = inUse
}

func (r *recordingProjection) UpdateThermostat(active bool, displayAmps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thermoActive = active
	r.displayAmps = displayAmps
}

func (r *recordingProjection) UpdateBattery(charging bool, percent int, low bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charging = charging
	r.percent = percent
	r.low = low
}

func (r *recordingProjection) UpdateSensor(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensor = percent
}

func (r *recordingProjection) set() ProjectionSet {
	return ProjectionSet{
		Lock:       r,
		Switch:     r,
		Outlet:     r,
		Thermostat: r,
		Battery:    r,
		Sensor:     r,
	}
}

// recordingFactory satisfies ProjectionFactory.
type recordingFactory struct {
	projections map[string]*recordingProjection
}

func newRecordingFactory() *recordingFactory {
	return &recordingFactory{projections: make(map[string]*recordingProjection)}
}

func (f *recordingFactory) Projections(b *Binding) ProjectionSet {
	r := &recordingProjection{}
	f.projections[b.Name] = r
	return r.set()
}
