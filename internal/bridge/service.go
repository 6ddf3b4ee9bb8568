package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/config"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

// discoveryAPI is the slice of the vendor client discovery needs.
type discoveryAPI interface {
	CheckEmail(ctx context.Context, email string) (string, error)
	GetUserID(ctx context.Context, token, id string) (string, error)
	GetUser(ctx context.Context, token, userID string) (wallbox.UserInfo, error)
	GetChargerGroups(ctx context.Context, token string) ([]wallbox.ChargerGroup, error)
	GetChargerModels(ctx context.Context, token string, groupID int) ([]wallbox.ChargerModel, error)
	GetChargerData(ctx context.Context, token string, chargerID int) (wallbox.ChargerData, error)
	GetChargerConfig(ctx context.Context, token string, chargerID int) (wallbox.ChargerConfig, error)
}

// sessionSource extends tokenSource with explicit signin for bootstrap.
type sessionSource interface {
	tokenSource
	SignIn(ctx context.Context) (wallbox.Session, error)
}

// Service discovers the account's chargers, binds them to projections and
// keeps them refreshed on the steady schedule.
type Service struct {
	api      discoveryAPI
	sessions sessionSource
	sync     *Synchronizer
	factory  ProjectionFactory
	cfg      *config.Config
	logger   *zap.Logger
}

// NewService wires the bridge service.
func NewService(api discoveryAPI, sessions sessionSource, sync *Synchronizer, factory ProjectionFactory, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		api:      api,
		sessions: sessions,
		sync:     sync,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "bridge")),
	}
}

// Run performs discovery and then drives the steady refresh loop until the
// context is canceled. Discovery failures are retried; when all retries
// are spent the service idles instead of exiting so the rest of the
// process (API, metrics) stays reachable.
func (s *Service) Run(ctx context.Context) error {
	retryWait := time.Duration(s.cfg.Polling.RetryWaitSecs) * time.Second

	var err error
	for attempt := 1; attempt <= s.cfg.Polling.RetryMax; attempt++ {
		if err = s.discover(ctx); err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("discovery failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.Polling.RetryMax),
			zap.Error(err),
		)
		if attempt < s.cfg.Polling.RetryMax {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryWait):
			}
		}
	}
	if err != nil {
		s.logger.Error("discovery exhausted all retries, bridge is idle", zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}

	s.pollAll(ctx)

	interval := time.Duration(s.cfg.Polling.RefreshIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("steady refresh scheduled", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollAll(ctx)
			s.checkFirmware(ctx)
		}
	}
}

// discover signs in, resolves the account's charger groups and binds each
// matching charger.
func (s *Service) discover(ctx context.Context) error {
	span := tracer.StartSpan("bridge.discover")
	defer span.Finish()

	status, err := s.api.CheckEmail(ctx, s.cfg.Wallbox.Email)
	if err != nil {
		return fmt.Errorf("checking account email: %w", err)
	}
	if status != "confirmed" {
		return fmt.Errorf("account %s is not confirmed (status %q)", s.cfg.Wallbox.Email, status)
	}

	session, err := s.sessions.SignIn(ctx)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	userID, err := s.api.GetUserID(ctx, session.Token, session.UserID)
	if err != nil {
		return fmt.Errorf("resolving user id: %w", err)
	}

	user, err := s.api.GetUser(ctx, session.Token, userID)
	if err != nil {
		return fmt.Errorf("fetching user: %w", err)
	}
	s.logger.Info("signed in",
		zap.String("user", user.Name+" "+user.Surname),
		zap.Int("access_configs", len(user.AccessConfigs)),
	)

	// only the groups granted to this account by an access config count
	accessible := make(map[int]bool, len(user.AccessConfigs))
	for _, ac := range user.AccessConfigs {
		accessible[ac.Group] = true
	}

	groups, err := s.api.GetChargerGroups(ctx, session.Token)
	if err != nil {
		return fmt.Errorf("fetching charger groups: %w", err)
	}

	bound := 0
	for _, group := range groups {
		if !accessible[group.ID] {
			s.logger.Info("skipping charger group without access config",
				zap.String("group", group.Name),
			)
			continue
		}
		if s.cfg.Wallbox.LocationName != "" && group.Name != s.cfg.Wallbox.LocationName {
			s.logger.Info("skipping charger group outside configured location",
				zap.String("group", group.Name),
				zap.String("location", s.cfg.Wallbox.LocationName),
			)
			continue
		}
		// model metadata is enrichment only, the listing may be empty
		models := make(map[int]wallbox.ChargerModel)
		if ms, err := s.api.GetChargerModels(ctx, session.Token, group.ID); err != nil {
			s.logger.Debug("charger model lookup failed",
				zap.String("group", group.Name), zap.Error(err))
		} else {
			for _, m := range ms {
				models[m.ID] = m
			}
		}

		for _, charger := range group.Chargers {
			registered, err := s.bindCharger(ctx, session.Token, group.Name, charger, models[charger.ID])
			if err != nil {
				return err
			}
			if registered {
				bound++
			}
		}
	}
	if bound == 0 {
		return fmt.Errorf("no chargers found for account %s", s.cfg.Wallbox.Email)
	}

	s.logger.Info("discovery complete", zap.Int("chargers", bound))
	return nil
}

// bindCharger registers one discovered charger. A charger with no car
// entry in the config is skipped, not registered; the second return
// reports whether a binding was made.
func (s *Service) bindCharger(ctx context.Context, token, groupName string, charger wallbox.GroupCharger, model wallbox.ChargerModel) (bool, error) {
	data, err := s.api.GetChargerData(ctx, token, charger.ID)
	if err != nil {
		return false, fmt.Errorf("fetching charger %s: %w", charger.Name, err)
	}

	cfg, err := s.api.GetChargerConfig(ctx, token, charger.ID)
	if err != nil {
		return false, fmt.Errorf("fetching charger config %s: %w", charger.Name, err)
	}

	log := s.logger.With(zap.String("charger", data.Name))

	capacity, ok := s.cfg.Wallbox.BatteryCapacity(data.Name)
	if !ok {
		log.Warn("charger not found in config, not added")
		return false, nil
	}

	log.Info("found charger",
		zap.String("serial", data.SerialNumber),
		zap.String("model", model.Model),
		zap.String("group", groupName),
		zap.String("firmware", cfg.Software.CurrentVersion),
	)
	if cfg.Software.UpdateAvailable {
		log.Warn("firmware update available",
			zap.String("current", cfg.Software.CurrentVersion),
			zap.String("latest", cfg.Software.LatestVersion),
		)
	}

	b := NewBinding(charger.ID, data.UID, data.Name, groupName, capacity)
	b.Bind(s.factory.Projections(b))
	s.sync.Register(b)
	return true, nil
}

func (s *Service) pollAll(ctx context.Context) {
	for _, b := range s.sync.Bindings() {
		if _, err := s.sync.Poll(ctx, b.ChargerID); err != nil {
			s.logger.Warn("refresh failed", zap.String("charger", b.Name), zap.Error(err))
		}
	}
}

// checkFirmware re-reads each charger's config on the steady schedule and
// warns when an update became available.
func (s *Service) checkFirmware(ctx context.Context) {
	token, err := s.sessions.EnsureValidToken(ctx)
	if err != nil {
		s.logger.Warn("firmware check skipped", zap.Error(err))
		return
	}
	for _, b := range s.sync.Bindings() {
		cfg, err := s.api.GetChargerConfig(ctx, token, b.ChargerID)
		if err != nil {
			s.logger.Warn("firmware check failed", zap.String("charger", b.Name), zap.Error(err))
			continue
		}
		if cfg.Software.UpdateAvailable {
			s.logger.Warn("firmware update available",
				zap.String("charger", b.Name),
				zap.String("current", cfg.Software.CurrentVersion),
				zap.String("latest", cfg.Software.LatestVersion),
			)
		}
	}
}
