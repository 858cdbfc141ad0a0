package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultTopicPrefix is used when the broker URL carries no path.
const DefaultTopicPrefix = "neurobridge"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("robot: controller closed")

// MQTTActuator publishes joint targets to an MQTT bus.
//
// Topics:
//   - {prefix}/joint/{motor} - joint target, {"position": p, "ts": unix_ms}
//   - {prefix}/status        - retained daemon status, read by Status
type MQTTActuator struct {
	prefix  string
	client  mqtt.Client
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	status string
}

// NewMQTTActuator connects to brokerURL (e.g. "tcp://robot.local:1883").
func NewMQTTActuator(brokerURL, prefix string) (*MQTTActuator, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID("neurobridge-" + uuid.New().String())
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", token.Error())
	}

	a := &MQTTActuator{
		prefix:  prefix,
		client:  client,
		timeout: 2 * time.Second,
		status:  "unknown",
	}
	if token := client.Subscribe(prefix+"/status", 1, a.onStatus); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to status: %w", token.Error())
	}
	return a, nil
}

func (a *MQTTActuator) onStatus(_ mqtt.Client, msg mqtt.Message) {
	var st struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(msg.Payload(), &st); err != nil || st.State == "" {
		return
	}
	a.mu.Lock()
	a.status = st.State
	a.mu.Unlock()
}

// Topic returns the topic a joint target is published on.
func (a *MQTTActuator) Topic(motor string) string {
	return a.prefix + "/joint/" + motor
}

// MoveJoint publishes the target with QoS 1 and waits for the broker ack.
func (a *MQTTActuator) MoveJoint(ctx context.Context, motor string, position float64) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(map[string]any{
		"position": position,
		"ts":       time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	token := a.client.Publish(a.Topic(motor), 1, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.timeout):
		return fmt.Errorf("publish to %s timed out", a.Topic(motor))
	}
}

// Status returns the last state seen on {prefix}/status.
func (a *MQTTActuator) Status(context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return "", ErrClosed
	}
	if !a.client.IsConnected() {
		return "disconnected", nil
	}
	return a.status, nil
}

// Close disconnects from the broker.
func (a *MQTTActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.client.Disconnect(250)
	return nil
}
