// Package mqttclient wraps the paho MQTT client used as the in-process
// message bus between the Bridge, Ingestion, Alert engine, and Notify
// components — exactly the role the teacher's mqttclient package fills
// between camera drivers and the supervisor.
package mqttclient

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/waggle-hive/hivehub/internal/config"
)

// Client is a thin synchronous wrapper over paho's async client.
type Client struct {
	client mqtt.Client
}

// Options configures a new Client.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// NewFromConfig builds an MQTT client from the shared Config, using
// clientID to distinguish this process on the broker.
func NewFromConfig(cfg *config.Config, clientID string) (*Client, error) {
	return New(Options{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		ClientID: clientID,
	})
}

// New connects a new MQTT client with the given options.
func New(opts Options) (*Client, error) {
	broker := fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port)

	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(broker)
	mqttOpts.SetClientID(opts.ClientID)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetConnectTimeout(5 * time.Second)
	mqttOpts.SetKeepAlive(30 * time.Second)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
		mqttOpts.SetPassword(opts.Password)
	}

	cli := mqtt.NewClient(mqttOpts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect error: %w", err)
	}

	return &Client{client: cli}, nil
}

// Publish sends payload to topic, blocking until the broker acknowledges.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topic (which may include MQTT wildcards).
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects the client, if connected.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
