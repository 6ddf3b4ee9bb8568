package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/metrics"
)

// defaultDebounce coalesces bursts of triggers into one live window.
const defaultDebounce = 500 * time.Millisecond

// LiveUpdateController runs short high-frequency polling windows after
// user interaction. The first trigger opens a window immediately;
// triggers inside the debounce interval are dropped so a UI reading
// status in a tight loop keeps the open window instead of resetting it.
// A trigger outside the interval cancels the running window and starts
// a fresh one that polls at the live rate until the window times out.
type LiveUpdateController struct {
	sync     *Synchronizer
	logger   *zap.Logger
	rate     time.Duration
	timeout  time.Duration
	debounce time.Duration

	mu      sync.Mutex
	windows map[int]*liveWindow
	wg      sync.WaitGroup
}

type liveWindow struct {
	cancel context.CancelFunc
	opened time.Time
}

// NewLiveUpdateController creates a controller polling every rate for at
// most timeout per window.
func NewLiveUpdateController(sync *Synchronizer, rate, timeout time.Duration, logger *zap.Logger) *LiveUpdateController {
	return &LiveUpdateController{
		sync:     sync,
		logger:   logger.With(zap.String("component", "live_update")),
		rate:     rate,
		timeout:  timeout,
		debounce: defaultDebounce,
		windows:  make(map[int]*liveWindow),
	}
}

// Trigger requests a live window for a charger. A trigger arriving
// within the debounce interval of the last accepted one is dropped;
// otherwise any window already running is canceled and a fresh one
// opens immediately.
func (c *LiveUpdateController) Trigger(chargerID int) {
	c.mu.Lock()

	if w, ok := c.windows[chargerID]; ok {
		if time.Since(w.opened) < c.debounce {
			c.mu.Unlock()
			return
		}
		if w.cancel != nil {
			w.cancel()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.windows[chargerID] = &liveWindow{cancel: cancel, opened: time.Now()}
	c.mu.Unlock()

	metrics.LiveWindows.Inc()
	c.logger.Debug("live window opened", zap.Int("charger_id", chargerID))

	c.wg.Add(1)
	go c.run(ctx, chargerID)
}

func (c *LiveUpdateController) run(ctx context.Context, chargerID int) {
	defer c.wg.Done()

	if _, err := c.sync.Poll(ctx, chargerID); err != nil {
		c.logger.Warn("live poll failed", zap.Int("charger_id", chargerID), zap.Error(err))
	}

	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("live window closed", zap.Int("charger_id", chargerID))
			return
		case <-ticker.C:
			if _, err := c.sync.Poll(ctx, chargerID); err != nil {
				c.logger.Warn("live poll failed", zap.Int("charger_id", chargerID), zap.Error(err))
			}
		}
	}
}

// Shutdown cancels all open windows and waits for their pollers to exit.
func (c *LiveUpdateController) Shutdown() {
	c.mu.Lock()
	for _, w := range c.windows {
		if w.cancel != nil {
			w.cancel()
		}
	}
	c.windows = make(map[int]*liveWindow)
	c.mu.Unlock()
	c.wg.Wait()
}
