package bridge

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

// Accessory projections are the bridge's outbound surface: each poll
// cycle derives a view of the charger and pushes it through whichever
// projections are configured. Implementations live in internal/mqtt.

// LockProjection mirrors the charger's lock state.
type LockProjection interface {
	UpdateLock(locked bool)
	SetFault(fault bool)
}

// SwitchProjection mirrors charging activity as an on/off switch.
type SwitchProjection interface {
	UpdateSwitch(on bool)
}

// OutletProjection mirrors charging activity plus cable presence.
type OutletProjection interface {
	UpdateOutlet(on, inUse bool)
}

// ThermostatProjection mirrors the maximum charging current, scaled for
// display when Fahrenheit mode is active.
type ThermostatProjection interface {
	UpdateThermostat(active bool, displayAmps float64)
}

// BatteryProjection mirrors the estimated car battery level derived from
// the session's added energy.
type BatteryProjection interface {
	UpdateBattery(charging bool, percent int, low bool)
}

// SensorProjection exposes the battery estimate as a standalone sensor.
type SensorProjection interface {
	UpdateSensor(percent int)
}

// ProjectionSet bundles the projections bound to one charger. Any member
// may be nil when the corresponding control is not configured; the
// fan-out helpers are nil-safe.
type ProjectionSet struct {
	Lock       LockProjection
	Switch     SwitchProjection
	Outlet     OutletProjection
	Thermostat ThermostatProjection
	Battery    BatteryProjection
	Sensor     SensorProjection
}

// ProjectionFactory creates the projection set for a discovered charger.
// The bridge calls it once per charger during discovery.
type ProjectionFactory interface {
	Projections(b *Binding) ProjectionSet
}

// NopProjectionFactory returns empty projection sets, used when no
// outbound transport is configured.
type NopProjectionFactory struct{}

func (NopProjectionFactory) Projections(*Binding) ProjectionSet { return ProjectionSet{} }

// ChargerState is the derived view fanned out after a poll cycle.
type ChargerState struct {
	StatusID       int
	Mode           wallbox.Mode
	Description    string
	Locked         bool
	ChargingActive bool
	OutletInUse    bool
	Fault          bool
	DisplayAmps    float64
	BatteryPercent int
	LowBattery     bool
	AddedEnergy    float64
	ChargingTime   int
}

// Binding ties a discovered charger to its projections and remembers the
// last derived state so fault modes can leave activity flags untouched.
// The recorded state is read by the HTTP API and command paths while
// live-window goroutines write it, so access goes through the mutex.
type Binding struct {
	ChargerID   int
	UID         string
	Key         uuid.UUID
	Name        string
	GroupName   string
	CapacityKWH float64

	projections ProjectionSet

	mu      sync.Mutex
	last    ChargerState
	hasLast bool
}

// bindingNamespace seeds the deterministic binding key. The value itself
// is arbitrary but must never change once bindings are published.
var bindingNamespace = uuid.MustParse("8f3c1b2a-4d5e-4f60-9a71-c2d3e4f50617")

// NewBinding creates a charger binding with a key derived from the
// charger's immutable uid.
func NewBinding(chargerID int, uid, name, groupName string, capacityKWH float64) *Binding {
	return &Binding{
		ChargerID:   chargerID,
		UID:         uid,
		Key:         uuid.NewSHA1(bindingNamespace, []byte(uid)),
		Name:        name,
		GroupName:   groupName,
		CapacityKWH: capacityKWH,
	}
}

// Bind attaches the projection set created for this charger.
func (b *Binding) Bind(p ProjectionSet) {
	b.projections = p
}

// LastState returns the most recent derived state and whether one exists.
func (b *Binding) LastState() (ChargerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// projectLock pushes an optimistic lock value without touching the
// binding's recorded state.
func (b *Binding) projectLock(locked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.projections.Lock != nil {
		b.projections.Lock.UpdateLock(locked)
	}
}

// projectAmps pushes an optimistic display amperage.
func (b *Binding) projectAmps(displayAmps float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.projections.Thermostat != nil {
		b.projections.Thermostat.UpdateThermostat(b.last.ChargingActive, displayAmps)
	}
}

// projectActive pushes an optimistic charging-activity value.
func (b *Binding) projectActive(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.projections
	if p.Switch != nil {
		p.Switch.UpdateSwitch(on)
	}
	if p.Outlet != nil {
		p.Outlet.UpdateOutlet(on, b.last.OutletInUse || on)
	}
	if p.Thermostat != nil {
		p.Thermostat.UpdateThermostat(on, b.last.DisplayAmps)
	}
}

// apply fans a derived state out to every configured projection and
// records it as the binding's last known state.
func (b *Binding) apply(st ChargerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.projections
	if p.Lock != nil {
		p.Lock.UpdateLock(st.Locked)
		p.Lock.SetFault(st.Fault)
	}
	if p.Switch != nil {
		p.Switch.UpdateSwitch(st.ChargingActive)
	}
	if p.Outlet != nil {
		p.Outlet.UpdateOutlet(st.ChargingActive, st.OutletInUse)
	}
	if p.Thermostat != nil {
		p.Thermostat.UpdateThermostat(st.ChargingActive, st.DisplayAmps)
	}
	if p.Battery != nil {
		p.Battery.UpdateBattery(st.ChargingActive, st.BatteryPercent, st.LowBattery)
	}
	if p.Sensor != nil {
		p.Sensor.UpdateSensor(st.BatteryPercent)
	}
	b.last = st
	b.hasLast = true
}
