package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

var (
	// ErrDeviceFault rejects commands while the charger reports a fault.
	ErrDeviceFault = errors.New("charger is in a fault state")
	// ErrNotConfigured marks a charger the bridge has no binding for.
	ErrNotConfigured = errors.New("charger is not configured")
)

// commandAPI is the slice of the vendor client the command paths need.
type commandAPI interface {
	GetChargerStatus(ctx context.Context, token string, chargerID int) (wallbox.StatusSnapshot, error)
	SetLock(ctx context.Context, token string, chargerID int, locked bool) (wallbox.ChargerData, error)
	SetMaxCurrent(ctx context.Context, token string, chargerID int, amps float64) (wallbox.ChargerData, error)
	RemoteAction(ctx context.Context, token string, chargerID int, action wallbox.RemoteAction) error
}

// CommandExecutor runs user commands against the vendor with optimistic
// projection updates: the intended value is pushed to the projections
// immediately, then committed or reverted once the vendor answers. A
// command attempted in a mode that cannot accept it reverts silently.
type CommandExecutor struct {
	api    commandAPI
	tokens tokenSource
	sync   *Synchronizer
	logger *zap.Logger
}

// NewCommandExecutor creates a command executor over an existing
// synchronizer's bindings.
func NewCommandExecutor(api commandAPI, tokens tokenSource, sync *Synchronizer, logger *zap.Logger) *CommandExecutor {
	return &CommandExecutor{
		api:    api,
		tokens: tokens,
		sync:   sync,
		logger: logger.With(zap.String("component", "commands")),
	}
}

// SetLocked locks or unlocks a charger.
func (e *CommandExecutor) SetLocked(ctx context.Context, chargerID int, locked bool) error {
	span := tracer.StartSpan("bridge.command", tracer.Tag("intent", "lock"))
	defer span.Finish()

	b, prev, err := e.begin("lock", chargerID)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.String("charger", b.Name), zap.Bool("locked", locked))

	b.projectLock(locked)

	token, snap, err := e.freshSnapshot(ctx, b, prev, "lock")
	if err != nil {
		return err
	}

	mode := wallbox.ResolveMode(snap.StatusID)
	if mode == wallbox.ModeError || mode == wallbox.ModeFirmwareUpdate {
		e.revert(b, prev, "lock", "fault")
		return ErrDeviceFault
	}
	if mode == wallbox.ModeUnknown {
		e.revert(b, prev, "lock", "illegal_mode")
		return nil
	}

	data, err := e.api.SetLock(ctx, token, chargerID, locked)
	if err != nil {
		if forbidden(err) {
			e.commitLock(b, prev, locked, log)
			return nil
		}
		e.revert(b, prev, "lock", "vendor_error")
		return fmt.Errorf("lock %s: %w", b.Name, err)
	}

	e.commitLock(b, prev, data.Locked, log)
	return nil
}

// SetMaxAmps writes the maximum charging current. Only a charger that is
// standing by or charging accepts the write.
func (e *CommandExecutor) SetMaxAmps(ctx context.Context, chargerID int, amps float64) error {
	span := tracer.StartSpan("bridge.command", tracer.Tag("intent", "amps"))
	defer span.Finish()

	b, prev, err := e.begin("amps", chargerID)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.String("charger", b.Name), zap.Float64("amps", amps))

	b.projectAmps(e.sync.displayAmps(amps))

	token, snap, err := e.freshSnapshot(ctx, b, prev, "amps")
	if err != nil {
		return err
	}

	switch mode := wallbox.ResolveMode(snap.StatusID); mode {
	case wallbox.ModeError, wallbox.ModeFirmwareUpdate:
		e.revert(b, prev, "amps", "fault")
		return ErrDeviceFault
	case wallbox.ModeStandby, wallbox.ModeCharging:
		// legal, fall through to the write
	default:
		e.logIllegal(log, snap.StatusID, mode)
		e.revert(b, prev, "amps", "illegal_mode")
		return nil
	}

	data, err := e.api.SetMaxCurrent(ctx, token, chargerID, amps)
	if err != nil {
		if forbidden(err) {
			e.commitAmps(b, prev, amps, log)
			return nil
		}
		e.revert(b, prev, "amps", "vendor_error")
		return fmt.Errorf("set amps %s: %w", b.Name, err)
	}

	e.commitAmps(b, prev, data.MaxChargingCurrent, log)
	return nil
}

// SetChargingActive starts or pauses charging. A charger standing by is
// resumed and a charging one paused; the requested value decides only
// what the projections commit to.
func (e *CommandExecutor) SetChargingActive(ctx context.Context, chargerID int, active bool) error {
	span := tracer.StartSpan("bridge.command", tracer.Tag("intent", "charging"))
	defer span.Finish()

	b, prev, err := e.begin("charging", chargerID)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.String("charger", b.Name), zap.Bool("active", active))

	b.projectActive(active)

	token, snap, err := e.freshSnapshot(ctx, b, prev, "charging")
	if err != nil {
		return err
	}

	var action wallbox.RemoteAction
	switch mode := wallbox.ResolveMode(snap.StatusID); mode {
	case wallbox.ModeError, wallbox.ModeFirmwareUpdate:
		e.revert(b, prev, "charging", "fault")
		return ErrDeviceFault
	case wallbox.ModeStandby:
		action = wallbox.ActionResume
	case wallbox.ModeCharging:
		action = wallbox.ActionPause
	default:
		e.logIllegal(log, snap.StatusID, mode)
		e.revert(b, prev, "charging", "illegal_mode")
		return nil
	}

	if err := e.api.RemoteAction(ctx, token, chargerID, action); err != nil {
		if forbidden(err) {
			e.commitActive(b, prev, active, log)
			return nil
		}
		e.revert(b, prev, "charging", "vendor_error")
		return fmt.Errorf("charging %s: %w", b.Name, err)
	}

	e.commitActive(b, prev, active, log)
	return nil
}

// begin resolves the binding and applies the fault short-circuit.
func (e *CommandExecutor) begin(intent string, chargerID int) (*Binding, ChargerState, error) {
	b, ok := e.sync.Binding(chargerID)
	if !ok {
		metrics.Commands.WithLabelValues(intent, "unbound").Inc()
		return nil, ChargerState{}, fmt.Errorf("%w: charger %d", ErrNotConfigured, chargerID)
	}
	prev, _ := b.LastState()
	if prev.Fault {
		metrics.Commands.WithLabelValues(intent, "fault").Inc()
		return nil, ChargerState{}, ErrDeviceFault
	}
	return b, prev, nil
}

// freshSnapshot resolves a token and re-reads the charger status so the
// legality check runs against current state, not the cached one.
func (e *CommandExecutor) freshSnapshot(ctx context.Context, b *Binding, prev ChargerState, intent string) (string, wallbox.StatusSnapshot, error) {
	token, err := e.tokens.EnsureValidToken(ctx)
	if err != nil {
		e.revert(b, prev, intent, "auth_error")
		return "", wallbox.StatusSnapshot{}, fmt.Errorf("%s %s: %w", intent, b.Name, err)
	}
	snap, err := e.api.GetChargerStatus(ctx, token, b.ChargerID)
	if err != nil {
		e.revert(b, prev, intent, "fetch_error")
		return "", wallbox.StatusSnapshot{}, fmt.Errorf("%s %s: %w", intent, b.Name, err)
	}
	return token, snap, nil
}

func (e *CommandExecutor) logIllegal(log *zap.Logger, statusID int, mode wallbox.Mode) {
	switch {
	case statusID == wallbox.StatusLockedNoCar:
		log.Info("car must be connected for this operation")
	case statusID == wallbox.StatusLockedCarConn:
		log.Info("charger must be unlocked for this operation")
	case mode == wallbox.ModeReady:
		log.Info("car must be connected for this operation")
	default:
		log.Info("charger cannot accept this operation right now",
			zap.String("mode", string(mode)))
	}
}

func (e *CommandExecutor) revert(b *Binding, prev ChargerState, intent, outcome string) {
	metrics.Commands.WithLabelValues(intent, outcome).Inc()
	b.apply(prev)
}

func (e *CommandExecutor) commitLock(b *Binding, prev ChargerState, locked bool, log *zap.Logger) {
	metrics.Commands.WithLabelValues("lock", "ok").Inc()
	st := prev
	st.Locked = locked
	b.apply(st)
	log.Info("lock state updated")
}

func (e *CommandExecutor) commitAmps(b *Binding, prev ChargerState, amps float64, log *zap.Logger) {
	metrics.Commands.WithLabelValues("amps", "ok").Inc()
	st := prev
	st.DisplayAmps = e.sync.displayAmps(amps)
	b.apply(st)
	log.Info("max charging current updated")
}

func (e *CommandExecutor) commitActive(b *Binding, prev ChargerState, active bool, log *zap.Logger) {
	metrics.Commands.WithLabelValues("charging", "ok").Inc()
	st := prev
	st.ChargingActive = active
	st.OutletInUse = true
	b.apply(st)
	log.Info("charging state updated")
}

// forbidden reports whether a vendor error is a 403, which the vendor
// returns on some accounts even when the write was applied.
func forbidden(err error) bool {
	var httpErr *wallbox.HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusForbidden
}
