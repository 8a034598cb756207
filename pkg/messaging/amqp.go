package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"visage-pipeline/pkg/aggregate"
)

// EmotionEvent is the message published for each applied analysis response.
type EmotionEvent struct {
	SegmentIndex int       `json:"segment_index"`
	Dominant     string    `json:"dominant"`
	FaceCount    int       `json:"face_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	RoutingKey string
	Durable    bool
}

// AMQPClient publishes per-segment emotion events so downstream report
// tooling can consume the timeline without polling the HTTP surface.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true

	return &AMQPClient{
		logger: logger,
		config: config,
	}
}

// Enabled reports whether the client has enough configuration to run
func (c *AMQPClient) Enabled() bool {
	return c.config.URL != "" && c.config.QueueName != ""
}

// Connect establishes a connection to the AMQP server and declares the queue
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if !c.Enabled() {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, AMQP publishing disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	c.logger.WithFields(logrus.Fields{
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	return nil
}

// Disconnect closes the channel and connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// IsConnected reports the connection state
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishEvent sends one emotion event to the queue
func (c *AMQPClient) PublishEvent(event EmotionEvent) error {
	c.connMutex.RLock()
	channel := c.channel
	connected := c.connected
	c.connMutex.RUnlock()

	if !connected || channel == nil {
		return fmt.Errorf("AMQP client is not connected")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal emotion event: %w", err)
	}

	err = channel.Publish(
		"", // default exchange
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish emotion event: %w", err)
	}

	return nil
}

// OnTimelineUpdate implements aggregate.Listener. Publish failures are
// logged and absorbed; the upload completion path never blocks on the
// broker.
func (c *AMQPClient) OnTimelineUpdate(update aggregate.Update) {
	event := EmotionEvent{
		SegmentIndex: update.SegmentIndex,
		Dominant:     update.Dominant,
		FaceCount:    update.FaceCount,
		Timestamp:    update.Timestamp,
	}

	if err := c.PublishEvent(event); err != nil {
		c.logger.WithError(err).WithField("segment_index", event.SegmentIndex).
			Warn("Failed to publish emotion event")
	}
}
