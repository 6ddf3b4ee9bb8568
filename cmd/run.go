package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/api"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/bridge"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/config"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/mqtt"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/wallbox"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Wallbox bridge service",
	Long: `Start the bridge and begin mirroring chargers.

The service will:
- Sign in to the Wallbox cloud and discover the account's chargers
- Publish charger state over MQTT as retained per-value topics
- Poll on the steady schedule, with live windows after user actions
- Accept control commands via MQTT and the local HTTP API`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	// Load configuration first
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create logger from config
	logger, err := CreateLoggerFromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	// Initialize Datadog tracing if enabled
	if cfg.Datadog.Enabled {
		tracer.Start(
			tracer.WithService(cfg.Datadog.ServiceName),
			tracer.WithEnv(cfg.Datadog.Environment),
			tracer.WithAgentAddr(fmt.Sprintf("%s:%d", cfg.Datadog.AgentHost, cfg.Datadog.AgentPort)),
		)
		defer tracer.Stop()
		logger.Info("Datadog tracing initialized",
			zap.String("service", cfg.Datadog.ServiceName),
			zap.String("environment", cfg.Datadog.Environment),
		)
	}

	logger.Info("Starting Wallbox bridge")
	logger.Info("Configuration loaded",
		zap.String("account", cfg.Wallbox.Email),
		zap.Int("cars", len(cfg.Wallbox.Cars)),
		zap.Int("show_controls", cfg.Controls.ShowControls),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		zap.Bool("datadog_enabled", cfg.Datadog.Enabled),
	)

	client := wallbox.NewClient(logger,
		wallbox.WithAPIMessages(cfg.Controls.ShowAPIMessages),
	)
	sessions := wallbox.NewSessionManager(client, cfg.Wallbox.Email, cfg.Wallbox.Password, logger,
		wallbox.WithUserMessages(cfg.Controls.ShowUserMessages),
	)

	// Initialize MQTT if enabled; without it the bridge still serves the
	// HTTP API from its internal state
	var factory bridge.ProjectionFactory = bridge.NopProjectionFactory{}
	var mqttHandler *mqtt.Handler
	if cfg.MQTT.Enabled {
		mqttHandler, err = mqtt.NewHandler(cfg.MQTT, cfg.Controls, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT handler: %w", err)
		}
		defer mqttHandler.Close()
		factory = mqttHandler
	}

	sync := bridge.NewSynchronizer(client, sessions, cfg.Controls.UseFahrenheit, logger)
	exec := bridge.NewCommandExecutor(client, sessions, sync, logger)
	live := bridge.NewLiveUpdateController(sync,
		time.Duration(cfg.Polling.LiveRefreshRateSecs)*time.Second,
		time.Duration(cfg.Polling.LiveRefreshTimeoutMins)*time.Minute,
		logger,
	)
	defer live.Shutdown()

	controller := bridge.NewController(sync, exec, live)
	service := bridge.NewService(client, sessions, sync, factory, cfg, logger)

	if mqttHandler != nil {
		if err := mqttHandler.SubscribeToCommands(controller); err != nil {
			return fmt.Errorf("failed to subscribe to MQTT commands: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bridge service stopped", zap.Error(err))
		}
	}()

	// Publish the charger list once discovery settles
	if mqttHandler != nil {
		go func() {
			time.Sleep(10 * time.Second)
			chargers := controller.Chargers()
			infos := make([]mqtt.ChargerInfo, 0, len(chargers))
			for _, b := range chargers {
				infos = append(infos, mqtt.ChargerInfo{Name: b.Name, UID: b.UID, Group: b.GroupName})
			}
			if err := mqttHandler.PublishChargerList(infos); err != nil {
				logger.Warn("failed to publish charger list", zap.Error(err))
			}
		}()
	}

	// Start API server for control commands
	apiAddr := fmt.Sprintf("localhost:%d", cfg.API.Port)
	apiServer := api.NewServer(controller, logger, apiAddr, cfg.API.Auth)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Wallbox bridge is running. Press Ctrl+C to stop.")
	logger.Info("API server listening", zap.String("url", fmt.Sprintf("http://%s", apiAddr)))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal")

	cancel()
	logger.Info("Wallbox bridge stopped")
	return nil
}
