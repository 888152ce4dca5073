// Package publish sends cycle reports to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/status"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	ErrConnectFailed = errors.ErrorCode("mqtt_connect_failed")
	ErrPublishFailed = errors.ErrorCode("mqtt_publish_failed")
	ErrPublishTimeout = errors.ErrorCode("mqtt_publish_timeout")

	DefaultBroker   = "tcp://localhost:1883"
	DefaultClientID = "ipmifanctl"
	DefaultTopic    = "ipmifanctl/status"

	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Publisher is a control.Reporter that publishes each cycle as a retained
// JSON message.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    logger.Logger
}

// Connect dials the broker. The client reconnects on its own afterwards.
func Connect(cfg Config, log logger.Logger) (*Publisher, error) {
	errFactory := errors.New()

	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errFactory.WithData(ErrConnectFailed, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}

	return New(client, cfg.Topic, log), nil
}

// New wraps a connected client.
func New(client mqtt.Client, topic string, log logger.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: client, topic: topic, log: log}
}

func (p *Publisher) Report(ctx context.Context, r control.Report) error {
	errFactory := errors.New()

	payload, err := json.Marshal(status.FromReport(r))
	if err != nil {
		return errFactory.Wrap(errors.ErrReportFailed, err)
	}

	token := p.client.Publish(p.topic, 1, true, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return errFactory.Wrap(errors.ErrReportFailed, errFactory.WithData(ErrPublishTimeout, p.topic))
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(errors.ErrReportFailed, errFactory.Wrap(ErrPublishFailed, err))
	}

	p.log.Debug().Str("topic", p.topic).Int("bytes", len(payload)).Msg("Published cycle report")
	return nil
}

func (p *Publisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
