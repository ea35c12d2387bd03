package forwarder

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gaziuzay/gcslink"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	mqttQoS            = 0
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesceMillis  = 250
)

// mqttClient is the part of mqtt.Client the forwarder uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

var mqttConnect = func(cfg gcslink.MQTTConfig) (mqttClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("broker", cfg.Broker).Warnf("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

// MQTTForwarder publishes samples as retained JSON messages on
// <prefix>/attitude, <prefix>/position and <prefix>/airdata.
type MQTTForwarder struct {
	prefix string
	client mqttClient
}

func NewMQTTForwarder(cfg gcslink.MQTTConfig) (*MQTTForwarder, error) {
	client, err := mqttConnect(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to mqtt broker %s", cfg.Broker)
	}
	log.WithField("broker", cfg.Broker).Info("connected to mqtt broker")
	return &MQTTForwarder{prefix: cfg.TopicPrefix, client: client}, nil
}

func (m *MQTTForwarder) Name() string {
	return "mqtt"
}

func (m *MQTTForwarder) Kinds() []gcslink.SampleKind {
	return nil
}

func (m *MQTTForwarder) Topic(kind gcslink.SampleKind) string {
	return m.prefix + "/" + kind.String()
}

func (m *MQTTForwarder) Forward(sample gcslink.DerivedSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, "unable to marshal sample")
	}
	topic := m.Topic(sample.Kind())
	token := m.client.Publish(topic, mqttQoS, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.Errorf("publish to %s timed out", topic)
	}
	return errors.Wrapf(token.Error(), "unable to publish to %s", topic)
}

func (m *MQTTForwarder) Close() error {
	m.client.Disconnect(mqttQuiesceMillis)
	return nil
}
