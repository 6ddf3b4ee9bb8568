package bridge

import (
	"context"
	"fmt"
)

// Controller is the name-keyed front door for the control surfaces (MQTT
// commands, local HTTP API). Every user action also opens a live polling
// window so the projections converge quickly on the real outcome.
type Controller struct {
	sync *Synchronizer
	exec *CommandExecutor
	live *LiveUpdateController
}

// NewController wires the control facade.
func NewController(sync *Synchronizer, exec *CommandExecutor, live *LiveUpdateController) *Controller {
	return &Controller{sync: sync, exec: exec, live: live}
}

func (c *Controller) resolve(chargerName string) (*Binding, error) {
	b, ok := c.sync.BindingByName(chargerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, chargerName)
	}
	return b, nil
}

// Chargers lists the bound chargers.
func (c *Controller) Chargers() []*Binding {
	return c.sync.Bindings()
}

// Status returns the last derived state for a charger and opens a live
// window so subsequent reads see fresh data.
func (c *Controller) Status(chargerName string) (ChargerState, error) {
	b, err := c.resolve(chargerName)
	if err != nil {
		return ChargerState{}, err
	}
	c.live.Trigger(b.ChargerID)
	st, ok := b.LastState()
	if !ok {
		return ChargerState{}, fmt.Errorf("no state yet for %s", chargerName)
	}
	return st, nil
}

// HandleStart starts or resumes charging.
func (c *Controller) HandleStart(chargerName string) error {
	b, err := c.resolve(chargerName)
	if err != nil {
		return err
	}
	defer c.live.Trigger(b.ChargerID)
	return c.exec.SetChargingActive(context.Background(), b.ChargerID, true)
}

// HandleStop pauses charging.
func (c *Controller) HandleStop(chargerName string) error {
	b, err := c.resolve(chargerName)
	if err != nil {
		return err
	}
	defer c.live.Trigger(b.ChargerID)
	return c.exec.SetChargingActive(context.Background(), b.ChargerID, false)
}

// HandleLock locks or unlocks the charger.
func (c *Controller) HandleLock(chargerName string, locked bool) error {
	b, err := c.resolve(chargerName)
	if err != nil {
		return err
	}
	defer c.live.Trigger(b.ChargerID)
	return c.exec.SetLocked(context.Background(), b.ChargerID, locked)
}

// HandleSetCurrent writes the maximum charging current.
func (c *Controller) HandleSetCurrent(chargerName string, current float64) error {
	b, err := c.resolve(chargerName)
	if err != nil {
		return err
	}
	defer c.live.Trigger(b.ChargerID)
	return c.exec.SetMaxAmps(context.Background(), b.ChargerID, current)
}
