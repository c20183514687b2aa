package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/logic"
)

const (
	publishTimeout  = 5 * time.Second
	bufferCapacity  = 1000
	retryInterval   = 5 * time.Second
	disconnectQuiet = 1000 // ms
)

// client is the subset of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed in order on
// reconnect.
type RealPublisher struct {
	client client
	logger *zap.Logger

	mu            sync.Mutex
	buf           *ringBuffer
	connectedOnce bool
}

func newPublisher(logger *zap.Logger) *RealPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealPublisher{
		logger: logger,
		buf:    newRingBuffer(bufferCapacity, logger),
	}
}

// NewRealPublisher creates a publisher for the given broker. It connects in
// the background and keeps retrying, so it never blocks on an absent broker.
// The broker publishes a retained SHUTDOWN (MQTT_DISCONNECT) if the
// connection drops uncleanly.
func NewRealPublisher(broker, clientID string, logger *zap.Logger) *RealPublisher {
	p := newPublisher(logger)

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	p.logger.Info("mqtt connecting", zap.String("broker", broker), zap.String("client_id", clientID))
	return p
}

// Publish sends a degradation event to the MQTT broker.
func (p *RealPublisher) Publish(session string, event logic.Event) error {
	payload, err := FormatPayload(session, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishState sends the compact state as a retained message.
func (p *RealPublisher) PublishState(session string, state logic.State, at time.Time) error {
	payload, err := FormatStatePayload(session, state, at)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicState, payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so lifecycle events are not lost
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiet)
	return nil
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.client.IsConnectionOpen() {
		p.buf.push(m)
		return nil
	}
	return p.send(m)
}

// onConnect replays buffered messages and, after the first connection,
// announces the reconnect. paho runs it on its own goroutine.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending := p.buf.drainAll()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	for _, m := range pending {
		if err := p.send(m); err != nil {
			p.logger.Warn("mqtt replay failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
	p.mu.Unlock()

	p.logger.Info("mqtt connected", zap.Int("replayed", len(pending)), zap.Bool("reconnect", reconnect))
	if !reconnect {
		return
	}
	if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
		p.logger.Warn("reconnected publish error", zap.Error(err))
	}
}

// send publishes m and waits for the broker. Caller holds mu.
func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}
