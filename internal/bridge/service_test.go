package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/config"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

func discoveryFixture() *fakeAPI {
	return &fakeAPI{
		emailStatus: "confirmed",
		userID:      "12345",
		user: wallbox.UserInfo{
			Name:    "Ada",
			Surname: "Lovelace",
			AccessConfigs: []wallbox.AccessConfig{
				{Group: 1, Chargers: []int{42, 43}},
				{Group: 2, Chargers: []int{44}},
			},
		},
		groups: []wallbox.ChargerGroup{
			{
				ID:   1,
				Name: "Home",
				Chargers: []wallbox.GroupCharger{
					{ID: 42, Name: "Garage"},
					{ID: 43, Name: "Driveway"},
				},
			},
			{
				ID:   2,
				Name: "Office",
				Chargers: []wallbox.GroupCharger{
					{ID: 44, Name: "Lot"},
				},
			},
		},
		data: wallbox.ChargerData{UID: "uid-x", Name: "Garage"},
	}
}

func newTestService(api *fakeAPI, cfg *config.Config) (*Service, *Synchronizer, *recordingFactory) {
	tokens := &fakeTokens{
		token:   "tok",
		session: wallbox.Session{UserID: "u", Token: "tok"},
	}
	s := NewSynchronizer(api, tokens, false, zap.NewNop())
	factory := newRecordingFactory()
	svc := NewService(api, tokens, s, factory, cfg, zap.NewNop())
	return svc, s, factory
}

func baseConfig() *config.Config {
	return &config.Config{
		Wallbox: config.WallboxConfig{
			Email:    "user@example.com",
			Password: "secret",
			Cars:     []config.CarConfig{{ChargerName: "Garage", KWH: 77}},
		},
		Polling: config.PollingConfig{
			RefreshIntervalHours: 24,
			RetryWaitSecs:        1,
			RetryMax:             1,
		},
	}
}

func TestDiscoverBindsAllChargers(t *testing.T) {
	api := discoveryFixture()
	svc, sync, factory := newTestService(api, baseConfig())

	require.NoError(t, svc.discover(context.Background()))

	assert.Len(t, sync.Bindings(), 3)
	assert.Len(t, factory.projections, 1, "fake returns the same charger data for all ids")

	b, ok := sync.Binding(42)
	require.True(t, ok)
	assert.Equal(t, 77.0, b.CapacityKWH, "capacity from the configured car")
}

func TestDiscoverHonorsLocationFilter(t *testing.T) {
	api := discoveryFixture()
	cfg := baseConfig()
	cfg.Wallbox.LocationName = "Home"
	svc, sync, _ := newTestService(api, cfg)

	require.NoError(t, svc.discover(context.Background()))

	assert.Len(t, sync.Bindings(), 2)
	_, ok := sync.Binding(44)
	assert.False(t, ok, "charger outside the location must not bind")
}

func TestDiscoverHonorsAccessConfigs(t *testing.T) {
	api := discoveryFixture()
	api.user.AccessConfigs = []wallbox.AccessConfig{
		{Group: 1, Chargers: []int{42, 43}},
	}
	svc, sync, _ := newTestService(api, baseConfig())

	require.NoError(t, svc.discover(context.Background()))

	assert.Len(t, sync.Bindings(), 2)
	_, ok := sync.Binding(44)
	assert.False(t, ok, "group without an access config must not bind")
}

func TestDiscoverSkipsUnconfiguredChargers(t *testing.T) {
	api := discoveryFixture()
	cfg := baseConfig()
	cfg.Wallbox.Cars = nil
	svc, sync, _ := newTestService(api, cfg)

	err := svc.discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chargers")
	assert.Empty(t, sync.Bindings(), "chargers without a configured car are not added")
}

func TestDiscoverRejectsUnconfirmedAccount(t *testing.T) {
	api := discoveryFixture()
	api.emailStatus = "pending"
	svc, sync, _ := newTestService(api, baseConfig())

	err := svc.discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not confirmed")
	assert.Empty(t, sync.Bindings())
}

func TestDiscoverFailsWithoutChargers(t *testing.T) {
	api := discoveryFixture()
	api.groups = nil
	svc, _, _ := newTestService(api, baseConfig())

	err := svc.discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chargers")
}
