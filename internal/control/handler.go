// Package control implements the MQTT command plane. Commands arrive as
// JSON on the control topic, responses go out on the health topic with a
// command_ack field so callers can correlate them.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/config"
)

// Command is a control message received over MQTT.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response is the acknowledgement published on the health topic.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"` // "ok" or "error"
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks wires commands to the session. Nil callbacks answer
// with a "not supported" error instead of crashing.
type CommandCallbacks struct {
	OnStart        func(periodMS, quality float64) error
	OnStop         func() error
	OnStatus       func() map[string]interface{}
	OnResetStats   func() error
	OnSetPeriod    func(periodMS float64) error
	OnSetQuality   func(quality float64) error
	OnGetSummary   func() map[string]interface{}
	OnAnalyzeVideo func(params map[string]interface{}) (map[string]interface{}, error)
	OnShutdown     func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	callbacks CommandCallbacks

	commands chan Command
}

// NewHandler creates a command handler using an already-connected MQTT
// client.
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// Start subscribes to the control topic and begins processing commands.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.qos("control")

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed on %s: %w", topic, err)
	}

	slog.Info("control plane listening", "topic", topic, "qos", qos)

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes from the control topic.
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	token := h.client.Unsubscribe(topic)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("unsubscribe timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe failed on %s: %w", topic, err)
	}

	slog.Info("control plane stopped", "topic", topic)
	return nil
}

// messageHandler parses incoming control messages. Runs on the paho
// router goroutine, so it only queues.
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Warn("invalid control message",
			"topic", msg.Topic(),
			"error", err,
		)
		h.sendResponse("", "error", nil, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if cmd.Command == "" {
		h.sendResponse("", "error", nil, "missing command field")
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping", "command", cmd.Command)
		h.sendResponse(cmd.Command, "error", nil, "command queue full")
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			slog.Info("processing command", "command", cmd.Command)
			if shutdown := h.handleCommand(cmd); shutdown {
				return
			}
		}
	}
}

// handleCommand dispatches one command. Returns true when the handler
// should stop processing (shutdown).
func (h *Handler) handleCommand(cmd Command) bool {
	switch cmd.Command {
	case "start":
		h.handleStart(cmd)

	case "stop":
		h.handleStop(cmd)

	case "status":
		h.handleStatus(cmd)

	case "reset_stats":
		h.handleResetStats(cmd)

	case "set_period":
		h.handleSetPeriod(cmd)

	case "set_quality":
		h.handleSetQuality(cmd)

	case "get_summary":
		h.handleGetSummary(cmd)

	case "analyze_video":
		h.handleAnalyzeVideo(cmd)

	case "shutdown":
		return h.handleShutdown(cmd)

	default:
		slog.Warn("unknown command", "command", cmd.Command)
		h.sendResponse(cmd.Command, "error", nil,
			fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return false
}

func (h *Handler) handleStart(cmd Command) {
	if h.callbacks.OnStart == nil {
		h.sendResponse("start", "error", nil, "start not supported")
		return
	}

	// Both params optional, zero means keep the configured default.
	var periodMS, quality float64
	if v, ok := cmd.Params["period_ms"].(float64); ok {
		periodMS = v
	}
	if v, ok := cmd.Params["quality"].(float64); ok {
		quality = v
	}

	if err := h.callbacks.OnStart(periodMS, quality); err != nil {
		h.sendResponse("start", "error", nil, err.Error())
		return
	}

	h.sendResponse("start", "ok", map[string]interface{}{
		"message": "detection started",
	}, "")
}

func (h *Handler) handleStop(cmd Command) {
	if h.callbacks.OnStop == nil {
		h.sendResponse("stop", "error", nil, "stop not supported")
		return
	}

	if err := h.callbacks.OnStop(); err != nil {
		h.sendResponse("stop", "error", nil, err.Error())
		return
	}

	h.sendResponse("stop", "ok", map[string]interface{}{
		"message": "detection stopped",
	}, "")
}

func (h *Handler) handleStatus(cmd Command) {
	if h.callbacks.OnStatus == nil {
		h.sendResponse("status", "error", nil, "status not supported")
		return
	}

	h.sendResponse("status", "ok", h.callbacks.OnStatus(), "")
}

func (h *Handler) handleResetStats(cmd Command) {
	if h.callbacks.OnResetStats == nil {
		h.sendResponse("reset_stats", "error", nil, "reset_stats not supported")
		return
	}

	if err := h.callbacks.OnResetStats(); err != nil {
		h.sendResponse("reset_stats", "error", nil, err.Error())
		return
	}

	h.sendResponse("reset_stats", "ok", map[string]interface{}{
		"message": "statistics cleared",
	}, "")
}

func (h *Handler) handleSetPeriod(cmd Command) {
	if h.callbacks.OnSetPeriod == nil {
		h.sendResponse("set_period", "error", nil, "set_period not supported")
		return
	}

	periodMS, ok := cmd.Params["period_ms"].(float64)
	if !ok {
		h.sendResponse("set_period", "error", nil, "missing or invalid period_ms")
		return
	}

	if err := h.callbacks.OnSetPeriod(periodMS); err != nil {
		h.sendResponse("set_period", "error", nil, err.Error())
		return
	}

	h.sendResponse("set_period", "ok", map[string]interface{}{
		"period_ms": periodMS,
	}, "")
}

func (h *Handler) handleSetQuality(cmd Command) {
	if h.callbacks.OnSetQuality == nil {
		h.sendResponse("set_quality", "error", nil, "set_quality not supported")
		return
	}

	quality, ok := cmd.Params["quality"].(float64)
	if !ok {
		h.sendResponse("set_quality", "error", nil, "missing or invalid quality")
		return
	}

	if err := h.callbacks.OnSetQuality(quality); err != nil {
		h.sendResponse("set_quality", "error", nil, err.Error())
		return
	}

	h.sendResponse("set_quality", "ok", map[string]interface{}{
		"quality": quality,
	}, "")
}

func (h *Handler) handleGetSummary(cmd Command) {
	if h.callbacks.OnGetSummary == nil {
		h.sendResponse("get_summary", "error", nil, "get_summary not supported")
		return
	}

	h.sendResponse("get_summary", "ok", h.callbacks.OnGetSummary(), "")
}

func (h *Handler) handleAnalyzeVideo(cmd Command) {
	if h.callbacks.OnAnalyzeVideo == nil {
		h.sendResponse("analyze_video", "error", nil, "analyze_video not supported")
		return
	}

	data, err := h.callbacks.OnAnalyzeVideo(cmd.Params)
	if err != nil {
		h.sendResponse("analyze_video", "error", nil, err.Error())
		return
	}

	h.sendResponse("analyze_video", "ok", data, "")
}

func (h *Handler) handleShutdown(cmd Command) bool {
	// Acknowledge first so the response gets out before the connection
	// is torn down.
	h.sendResponse("shutdown", "ok", map[string]interface{}{
		"message": "shutting down",
	}, "")

	if h.callbacks.OnShutdown != nil {
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
	}

	return true
}

func (h *Handler) sendResponse(cmdName, status string, data map[string]interface{}, errMsg string) {
	resp := Response{
		CommandAck: cmdName,
		Status:     status,
		Data:       data,
		Error:      errMsg,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Health
	token := h.client.Publish(topic, h.qos("health"), false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("response publish timeout", "command", cmdName)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("response publish failed", "command", cmdName, "error", err)
	}
}

func (h *Handler) qos(kind string) byte {
	if qos, ok := h.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}
