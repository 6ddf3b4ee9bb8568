package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

// defaultCapacityKWH is assumed when a charger has no configured car.
const defaultCapacityKWH = 80

// lowBatteryThreshold marks the derived battery estimate as low.
const lowBatteryThreshold = 10

// tokenSource yields a valid bearer token, refreshing or re-authenticating
// as needed.
type tokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// statusFetcher is the slice of the vendor client the poll loop needs.
type statusFetcher interface {
	GetChargerStatus(ctx context.Context, token string, chargerID int) (wallbox.StatusSnapshot, error)
}

// Synchronizer owns the charger bindings and turns vendor status
// snapshots into projection updates.
type Synchronizer struct {
	api           statusFetcher
	tokens        tokenSource
	logger        *zap.Logger
	useFahrenheit bool

	mu       sync.RWMutex
	bindings map[int]*Binding
}

// NewSynchronizer creates a synchronizer over the given vendor client and
// token source.
func NewSynchronizer(api statusFetcher, tokens tokenSource, useFahrenheit bool, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		api:           api,
		tokens:        tokens,
		logger:        logger.With(zap.String("component", "synchronizer")),
		useFahrenheit: useFahrenheit,
		bindings:      make(map[int]*Binding),
	}
}

// Register adds a charger binding. Registering the same charger id again
// replaces the previous binding.
func (s *Synchronizer) Register(b *Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.ChargerID] = b
}

// Binding returns the binding for a charger id.
func (s *Synchronizer) Binding(chargerID int) (*Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[chargerID]
	return b, ok
}

// BindingByName returns the binding whose charger name matches.
func (s *Synchronizer) BindingByName(name string) (*Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Bindings returns all registered bindings.
func (s *Synchronizer) Bindings() []*Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	return out
}

// Poll fetches a fresh status snapshot for one charger, derives the
// accessory state and fans it out. Unmapped status codes are logged and
// leave the projections untouched.
func (s *Synchronizer) Poll(ctx context.Context, chargerID int) (ChargerState, error) {
	span := tracer.StartSpan("bridge.poll", tracer.Tag("charger_id", chargerID))
	defer span.Finish()

	b, ok := s.Binding(chargerID)
	if !ok {
		return ChargerState{}, fmt.Errorf("poll: charger %d is not bound", chargerID)
	}

	token, err := s.tokens.EnsureValidToken(ctx)
	if err != nil {
		metrics.PollCycles.WithLabelValues(b.Name, "auth_error").Inc()
		return ChargerState{}, fmt.Errorf("poll %s: %w", b.Name, err)
	}

	snap, err := s.api.GetChargerStatus(ctx, token, chargerID)
	if err != nil {
		metrics.PollCycles.WithLabelValues(b.Name, "fetch_error").Inc()
		return ChargerState{}, fmt.Errorf("poll %s: %w", b.Name, err)
	}

	st, apply := s.derive(b, snap)
	if !apply {
		metrics.PollCycles.WithLabelValues(b.Name, "unknown_status").Inc()
		return st, nil
	}

	b.apply(st)

	metrics.PollCycles.WithLabelValues(b.Name, "ok").Inc()
	return st, nil
}

// derive maps a status snapshot onto accessory state. The second return
// is false when the snapshot must not be applied (unmapped status).
func (s *Synchronizer) derive(b *Binding, snap wallbox.StatusSnapshot) (ChargerState, bool) {
	info, known := wallbox.LookupStatus(snap.StatusID)
	log := s.logger.With(
		zap.String("charger", b.Name),
		zap.Int("status_id", snap.StatusID),
	)

	if !known {
		log.Warn("unknown status code, skipping update")
		prev, _ := b.LastState()
		return prev, false
	}

	capacity := b.CapacityKWH
	if capacity <= 0 {
		capacity = defaultCapacityKWH
	}
	percent := int(math.Round(snap.AddedEnergy / capacity * 100))
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	st := ChargerState{
		StatusID:       snap.StatusID,
		Mode:           info.Mode,
		Description:    info.Description,
		Locked:         snap.Locked,
		DisplayAmps:    s.displayAmps(snap.MaxChargingCurrent),
		BatteryPercent: percent,
		LowBattery:     percent < lowBatteryThreshold,
		AddedEnergy:    snap.AddedEnergy,
		ChargingTime:   snap.ChargingTime,
	}

	switch info.Mode {
	case wallbox.ModeLocked, wallbox.ModeReady:
		st.ChargingActive = false
		st.OutletInUse = snap.StatusID == wallbox.StatusLockedCarConn
	case wallbox.ModeCharging:
		st.ChargingActive = true
		st.OutletInUse = true
	case wallbox.ModeStandby:
		st.ChargingActive = false
		st.OutletInUse = true
		if snap.StatusID == wallbox.StatusComplete {
			log.Info("charging session complete",
				zap.Float64("added_energy_kwh", snap.AddedEnergy),
				zap.Int("charging_time_s", snap.ChargingTime),
			)
		}
	case wallbox.ModeFirmwareUpdate, wallbox.ModeError:
		// keep the last known activity flags, only raise the fault
		prev, hasPrev := b.LastState()
		if hasPrev {
			st.ChargingActive = prev.ChargingActive
			st.OutletInUse = prev.OutletInUse
		}
		st.Fault = true
		s.logFault(log, snap)
	}

	return st, true
}

func (s *Synchronizer) logFault(log *zap.Logger, snap wallbox.StatusSnapshot) {
	switch snap.StatusID {
	case wallbox.StatusDisconnected, 163:
		log.Warn("charger disconnected", zap.Time("last_sync", snap.SyncTimestamp))
	case wallbox.StatusOffline:
		log.Warn("charger offline", zap.Time("last_sync", snap.SyncTimestamp))
	case wallbox.StatusUpdating:
		log.Info("charger firmware updating")
	default:
		log.Error("charger reported an error state")
	}
}

// displayAmps converts the vendor amperage to the value shown on the
// thermostat projection. Fahrenheit displays run the reading through the
// reverse F-to-C conversion so the rendered number matches the amps.
func (s *Synchronizer) displayAmps(maxAmps float64) float64 {
	if s.useFahrenheit {
		return (maxAmps - 32 + 0.01) * 5 / 9
	}
	return maxAmps
}
