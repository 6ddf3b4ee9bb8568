package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/shindekokoro/homebridge-my-wallbox/internal/bridge"
	"github.com/shindekokoro/homebridge-my-wallbox/internal/config"
)

// CommandHandler handles MQTT commands
type CommandHandler interface {
	HandleStart(chargerName string) error
	HandleStop(chargerName string) error
	HandleLock(chargerName string, locked bool) error
	HandleSetCurrent(chargerName string, current float64) error
}

// CommandRequest represents an MQTT command request
type CommandRequest struct {
	ResponseTopic string  `json:"response_topic,omitempty"` // Optional topic to publish response to
	Current       float64 `json:"current,omitempty"`        // For set_current command
}

// CommandResponse represents an MQTT command response
type CommandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Handler publishes charger projections as retained per-value topics and
// routes incoming command messages to the bridge.
type Handler struct {
	client      mqtt.Client
	topicPrefix string
	controls    config.ControlsConfig
	logger      *zap.Logger
	enabled     bool
	handler     CommandHandler // Optional command handler
}

// NewHandler connects to the broker and returns a handler ready to
// publish and subscribe.
func NewHandler(cfg config.MQTTConfig, controls config.ControlsConfig, logger *zap.Logger) (*Handler, error) {
	span := tracer.StartSpan("mqtt.new_handler")
	defer span.Finish()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTT connected to broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("MQTT handler initialized",
		zap.String("broker", cfg.Broker),
		zap.String("topic_prefix", cfg.TopicPrefix))

	return &Handler{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		controls:    controls,
		logger:      logger,
		enabled:     true,
	}, nil
}

// Projections builds the projection set for one charger. Which members
// are populated follows the configured control selection; lock and
// battery are always exposed.
func (h *Handler) Projections(b *bridge.Binding) bridge.ProjectionSet {
	t := &chargerTopics{
		h:    h,
		base: fmt.Sprintf("%s/chargers/%s", h.topicPrefix, b.Name),
	}

	set := bridge.ProjectionSet{
		Lock:    t,
		Battery: t,
	}
	if h.controls.ShowSwitch() {
		set.Switch = t
	}
	if h.controls.ShowOutlet() {
		set.Outlet = t
	}
	if h.controls.ShowThermostat() {
		set.Thermostat = t
	}
	if h.controls.SOCSensor {
		set.Sensor = t
	}
	return set
}

// chargerTopics maps one charger's projections onto its topic subtree.
type chargerTopics struct {
	h    *Handler
	base string
}

func (t *chargerTopics) UpdateLock(locked bool) {
	t.h.publish(t.base+"/locked", locked)
}

func (t *chargerTopics) SetFault(fault bool) {
	t.h.publish(t.base+"/fault", fault)
}

func (t *chargerTopics) UpdateSwitch(on bool) {
	t.h.publish(t.base+"/charging", on)
}

func (t *chargerTopics) UpdateOutlet(on, inUse bool) {
	t.h.publish(t.base+"/charging", on)
	t.h.publish(t.base+"/cable_connected", inUse)
}

func (t *chargerTopics) UpdateThermostat(active bool, displayAmps float64) {
	t.h.publish(t.base+"/max_current", displayAmps)
}

func (t *chargerTopics) UpdateBattery(charging bool, percent int, low bool) {
	t.h.publish(t.base+"/battery", percent)
	t.h.publish(t.base+"/battery_low", low)
}

func (t *chargerTopics) UpdateSensor(percent int) {
	t.h.publish(t.base+"/soc", percent)
}

// SubscribeToCommands subscribes to command topics and handles incoming commands
func (h *Handler) SubscribeToCommands(handler CommandHandler) error {
	if !h.enabled {
		return nil
	}

	h.handler = handler

	// Subscribe to command topic: {prefix}/chargers/+/command
	// Action is in the payload: "start", "stop", "lock", "unlock", or
	// JSON for set_current
	commandTopic := fmt.Sprintf("%s/chargers/+/command", h.topicPrefix)
	token := h.client.Subscribe(commandTopic, 1, h.handleCommandMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", commandTopic, token.Error())
	}

	h.logger.Info("Subscribed to MQTT command topics", zap.String("topic", commandTopic))
	return nil
}

// handleCommandMessage processes incoming MQTT command messages
func (h *Handler) handleCommandMessage(client mqtt.Client, msg mqtt.Message) {
	if !h.enabled || h.handler == nil {
		return
	}

	span := tracer.StartSpan("mqtt.handle_command", tracer.Tag("topic", msg.Topic()))
	defer span.Finish()

	topic := msg.Topic()
	payload := msg.Payload()

	h.logger.Debug("Received MQTT command", zap.String("topic", topic), zap.String("payload", string(payload)))

	// Parse topic: {prefix}/chargers/{chargerName}/command
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] != "command" {
		h.logger.Warn("Invalid command topic format", zap.String("topic", topic))
		return
	}

	chargerName := parts[len(parts)-2]

	payloadStr := strings.TrimSpace(string(payload))
	if payloadStr == "" {
		h.logger.Warn("Empty payload for command topic", zap.String("topic", topic))
		return
	}

	var action string
	var cmdReq CommandRequest

	// Try to parse as JSON first (for set_current with current value)
	if err := json.Unmarshal(payload, &cmdReq); err == nil && cmdReq.Current > 0 {
		action = "set_current"
	} else {
		// Simple string action
		action = payloadStr
		// Try to parse as JSON for response_topic even if it's a string action
		json.Unmarshal(payload, &cmdReq)
	}

	span.SetTag("charger", chargerName)
	span.SetTag("action", action)

	resp := h.execute(chargerName, action, cmdReq)

	if cmdReq.ResponseTopic != "" {
		respJSON, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("Failed to marshal command response", zap.Error(err))
			return
		}

		token := h.client.Publish(cmdReq.ResponseTopic, 0, false, respJSON) // QoS 0, not retained
		if token.Wait() && token.Error() != nil {
			h.logger.Error("Failed to publish command response",
				zap.String("topic", cmdReq.ResponseTopic),
				zap.Error(token.Error()))
		} else {
			h.logger.Debug("Published command response",
				zap.String("topic", cmdReq.ResponseTopic),
				zap.Bool("success", resp.Success))
		}
	}
}

func (h *Handler) execute(chargerName, action string, cmdReq CommandRequest) CommandResponse {
	switch action {
	case "start":
		if err := h.handler.HandleStart(chargerName); err != nil {
			return CommandResponse{Success: false, Message: "Failed to start charging", Error: err.Error()}
		}
		return CommandResponse{Success: true, Message: "Charging started"}

	case "stop":
		if err := h.handler.HandleStop(chargerName); err != nil {
			return CommandResponse{Success: false, Message: "Failed to stop charging", Error: err.Error()}
		}
		return CommandResponse{Success: true, Message: "Charging stopped"}

	case "lock":
		if err := h.handler.HandleLock(chargerName, true); err != nil {
			return CommandResponse{Success: false, Message: "Failed to lock charger", Error: err.Error()}
		}
		return CommandResponse{Success: true, Message: "Charger locked"}

	case "unlock":
		if err := h.handler.HandleLock(chargerName, false); err != nil {
			return CommandResponse{Success: false, Message: "Failed to unlock charger", Error: err.Error()}
		}
		return CommandResponse{Success: true, Message: "Charger unlocked"}

	case "set_current", "current":
		if cmdReq.Current <= 0 {
			return CommandResponse{
				Success: false,
				Message: "Invalid current value",
				Error:   "current must be greater than 0",
			}
		}
		if err := h.handler.HandleSetCurrent(chargerName, cmdReq.Current); err != nil {
			return CommandResponse{Success: false, Message: "Failed to set current limit", Error: err.Error()}
		}
		return CommandResponse{Success: true, Message: fmt.Sprintf("Current limit set to %.1fA", cmdReq.Current)}

	default:
		h.logger.Warn("Unknown command action", zap.String("action", action))
		return CommandResponse{
			Success: false,
			Message: "Unknown command",
			Error:   fmt.Sprintf("unknown action: %s", action),
		}
	}
}

// ChargerInfo represents charger information for the list
type ChargerInfo struct {
	Name  string `json:"name"`
	UID   string `json:"uid"`
	Group string `json:"group"`
}

// PublishChargerList publishes the list of discovered chargers
func (h *Handler) PublishChargerList(chargers []ChargerInfo) error {
	if !h.enabled {
		return nil
	}

	span := tracer.StartSpan("mqtt.publish_charger_list")
	defer span.Finish()

	listJSON, err := json.Marshal(chargers)
	if err != nil {
		return fmt.Errorf("failed to marshal charger list: %w", err)
	}

	// Publish as retained message so clients can discover chargers on startup
	topic := fmt.Sprintf("%s/chargers", h.topicPrefix)
	token := h.client.Publish(topic, 0, true, listJSON) // QoS 0, retained
	if token.Wait() && token.Error() != nil {
		h.logger.Error("Failed to publish charger list", zap.String("topic", topic), zap.Error(token.Error()))
		return token.Error()
	}

	h.logger.Debug("Published charger list", zap.String("topic", topic), zap.Int("count", len(chargers)))
	return nil
}

// publish publishes a value to a topic (handles different types)
func (h *Handler) publish(topic string, value interface{}) {
	if !h.enabled {
		return
	}

	var payload string
	switch v := value.(type) {
	case bool:
		if v {
			payload = "true"
		} else {
			payload = "false"
		}
	case string:
		payload = v
	case float64:
		payload = fmt.Sprintf("%.2f", v)
	case int:
		payload = fmt.Sprintf("%d", v)
	default:
		payload = fmt.Sprintf("%v", v)
	}

	token := h.client.Publish(topic, 0, true, payload) // QoS 0, retained
	if token.Wait() && token.Error() != nil {
		h.logger.Error("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}

	h.logger.Debug("Published MQTT message", zap.String("topic", topic), zap.String("payload", payload))
}

// Close closes the MQTT connection
func (h *Handler) Close() {
	if h.client != nil && h.client.IsConnected() {
		h.client.Disconnect(250)
		h.logger.Info("MQTT handler closed")
	}
}
