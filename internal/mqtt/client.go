// client.go: paho-backed implementation of the Client interface.
package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/playwatch/playwatch/internal/conf"
	"github.com/playwatch/playwatch/internal/errors"
	"github.com/playwatch/playwatch/internal/observability/metrics"
)

const reconnectMaxBackoff = 5 * time.Minute

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  pahomqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.MQTTMetrics
}

// NewClient creates a new MQTT client from the settings. The metrics
// receiver may be nil.
func NewClient(settings *conf.Settings, m *metrics.MQTTMetrics) Client {
	config := DefaultConfig()
	config.Broker = settings.Output.MQTT.Broker
	config.ClientID = settings.Main.Name
	config.Username = settings.Output.MQTT.Username
	config.Password = settings.Output.MQTT.Password
	config.Topic = settings.Output.MQTT.Topic
	config.Retain = settings.Output.MQTT.Retain

	return &client{
		config:        config,
		reconnectStop: make(chan struct{}),
		metrics:       m,
	}
}

// Connect establishes a connection to the MQTT broker. The hostname is
// resolved first so a dead broker fails fast with a useful error.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Context("broker", c.config.Broker).
			Build()
	}

	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("host", host).
				Build()
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false) // reconnects run through our own backoff
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout to broker %s", c.config.Broker).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("broker", c.config.Broker).
			Build()
	}

	c.updateConnectionStatus(true)
	return nil
}

// Publish sends a message to the given topic and waits for delivery up to
// the publish timeout.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		mqttLogger.Warn("publish timeout", "topic", topic)
		return errors.Newf("publish timeout on topic %s", topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTT).
			Context("topic", topic).
			Build()
	}

	if c.metrics != nil {
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObservePublishLatency(time.Since(start).Seconds())
	}
	mqttLogger.Debug("message published", "topic", topic, "bytes", len(payload))
	return nil
}

// IsConnected reports whether the underlying client holds a live connection.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection and stops any pending reconnect.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.updateConnectionStatus(false)
	}
}

func (c *client) onConnect(_ pahomqtt.Client) {
	mqttLogger.Info("connected to MQTT broker", "broker", c.config.Broker)
	c.updateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	mqttLogger.Warn("connection to MQTT broker lost", "broker", c.config.Broker, "error", err)
	c.updateConnectionStatus(false)
	if c.metrics != nil {
		c.metrics.IncrementErrors("connection_lost")
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
		default:
			c.reconnectWithBackoff()
		}
	})
}

// reconnectWithBackoff retries the connection with doubling delays until it
// succeeds or Disconnect is called.
func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	for {
		if c.metrics != nil {
			c.metrics.IncrementReconnectAttempts()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		mqttLogger.Warn("reconnect attempt failed", "error", err, "next_attempt_in", backoff)

		select {
		case <-c.reconnectStop:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMaxBackoff)
	}
}

func (c *client) updateConnectionStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(connected)
	}
}
