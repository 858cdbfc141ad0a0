package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockActuator records all commands for testing
type mockActuator struct {
	mu    sync.Mutex
	moves []struct {
		motor    string
		position float64
	}
	err error
}

func (m *mockActuator) MoveJoint(_ context.Context, motor string, position float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.moves = append(m.moves, struct {
		motor    string
		position float64
	}{motor, position})
	return nil
}

func (m *mockActuator) positions() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.moves))
	for i, mv := range m.moves {
		out[i] = mv.position
	}
	return out
}

func TestGuard_ClampsToLimits(t *testing.T) {
	mock := &mockActuator{}
	g := NewGuard(mock, map[string]Limit{"pan": {Min: -45, Max: 45}}, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		motor string
		in    float64
		want  float64
	}{
		{"within range", "pan", 10, 10},
		{"above max", "pan", 90, 45},
		{"below min", "pan", -90, -45},
		{"unlimited motor", "tilt", 120, 120},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, g.MoveJoint(ctx, tc.motor, tc.in))
			got := mock.positions()
			assert.Equal(t, tc.want, got[len(got)-1])
		})
	}
}

func TestGuard_DeadZone(t *testing.T) {
	mock := &mockActuator{}
	g := NewGuard(mock, nil, nil)
	ctx := context.Background()

	require.NoError(t, g.MoveJoint(ctx, "pan", 10))
	require.NoError(t, g.MoveJoint(ctx, "pan", 10.2)) // skipped
	require.NoError(t, g.MoveJoint(ctx, "pan", 11))
	require.NoError(t, g.MoveJoint(ctx, "tilt", 10.2)) // other motor

	assert.Equal(t, []float64{10, 11, 10.2}, mock.positions())
	skipped, errs := g.Stats()
	assert.Equal(t, uint64(1), skipped)
	assert.Zero(t, errs)
}

func TestGuard_FailedSendIsRetried(t *testing.T) {
	mock := &mockActuator{err: errors.New("bus down")}
	g := NewGuard(mock, nil, nil)
	ctx := context.Background()

	assert.Error(t, g.MoveJoint(ctx, "pan", 10))
	mock.mu.Lock()
	mock.err = nil
	mock.mu.Unlock()

	// The failed target was never recorded as sent.
	require.NoError(t, g.MoveJoint(ctx, "pan", 10))
	assert.Equal(t, []float64{10}, mock.positions())
	_, errs := g.Stats()
	assert.Equal(t, uint64(1), errs)
}

func TestHTTPActuator_MoveJoint(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/move/joint":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		case "/api/daemon/status":
			_, _ = w.Write([]byte(`{"state":"running"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	a := NewHTTPActuator(server.URL)
	require.NoError(t, a.MoveJoint(context.Background(), "pan", 30))
	assert.Equal(t, "pan", got["motor"])
	assert.Equal(t, float64(30), got["position"])
	assert.Equal(t, DefaultMoveDuration, got["duration"])

	state, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", state)
}

func TestHTTPActuator_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown motor", http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewHTTPActuator(server.URL).MoveJoint(context.Background(), "wing", 1)
	assert.ErrorContains(t, err, "status 400")
	assert.ErrorContains(t, err, "unknown motor")
}

func TestNew_SelectsTransport(t *testing.T) {
	c, err := New("http://robot.local:8000/")
	require.NoError(t, err)
	assert.Equal(t, "http://robot.local:8000", c.(*HTTPActuator).BaseURL)

	c, err = New("192.168.1.20")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.20:8000", c.(*HTTPActuator).BaseURL)

	_, err = New("")
	assert.Error(t, err)

	_, err = New("serial://COM7")
	assert.ErrorContains(t, err, "unsupported")
}

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startBroker(t *testing.T) string {
	t.Helper()
	port := getFreePort(t)
	broker := mqttserver.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: fmt.Sprintf("localhost:%d", port),
	})
	require.NoError(t, broker.AddListener(tcp))

	go func() {
		_ = broker.Serve()
	}()
	t.Cleanup(func() { _ = broker.Close() })

	addr := fmt.Sprintf("localhost:%d", port)
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
	return "tcp://" + addr
}

func TestMQTTActuator_PublishesJointTargets(t *testing.T) {
	brokerURL := startBroker(t)

	// Observer subscribes to every joint topic.
	received := make(chan mqtt.Message, 4)
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID("observer")
	observer := mqtt.NewClient(opts)
	token := observer.Connect()
	require.True(t, token.WaitTimeout(2*time.Second))
	require.NoError(t, token.Error())
	defer observer.Disconnect(100)

	token = observer.Subscribe("arm/joint/+", 1, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	require.True(t, token.WaitTimeout(2*time.Second))
	require.NoError(t, token.Error())

	c, err := New(brokerURL + "/arm")
	require.NoError(t, err)
	defer c.Close()

	a := c.(*MQTTActuator)
	assert.Equal(t, "arm/joint/elbow", a.Topic("elbow"))
	require.NoError(t, a.MoveJoint(context.Background(), "elbow", -12.5))

	select {
	case msg := <-received:
		assert.Equal(t, "arm/joint/elbow", msg.Topic())
		var body map[string]float64
		require.NoError(t, json.Unmarshal(msg.Payload(), &body))
		assert.Equal(t, -12.5, body["position"])
	case <-time.After(2 * time.Second):
		t.Fatal("joint target not received")
	}

	state, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unknown", state)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.MoveJoint(context.Background(), "elbow", 0), ErrClosed)
}

func TestMQTTActuator_StatusFromRetainedMessage(t *testing.T) {
	brokerURL := startBroker(t)

	pub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID("daemon"))
	token := pub.Connect()
	require.True(t, token.WaitTimeout(2*time.Second))
	defer pub.Disconnect(100)
	token = pub.Publish("bot/status", 1, true, []byte(`{"state":"ready"}`))
	require.True(t, token.WaitTimeout(2*time.Second))

	a, err := NewMQTTActuator(brokerURL, "bot")
	require.NoError(t, err)
	defer a.Close()

	require.Eventually(t, func() bool {
		s, _ := a.Status(context.Background())
		return s == "ready"
	}, 2*time.Second, 20*time.Millisecond)
}
