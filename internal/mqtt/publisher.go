package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"netzwaechter/internal/energy"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info("MQTT connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		enabled:     true,
	}, nil
}

// Message is one MQTT publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Messages renders the latest reading of every meter as individual topics
// plus the whole aggregation as one retained JSON document.
func Messages(prefix string, objectID int64, series map[string]energy.MeterSeries) ([]Message, error) {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Message
	for _, key := range keys {
		s := series[key]
		if len(s.Data) == 0 {
			continue
		}
		latest := s.Data[0]
		base := fmt.Sprintf("%s/%d/%s", prefix, objectID, key)
		out = append(out,
			Message{Topic: base + "/energy", Payload: []byte(fmt.Sprintf("%.2f", latest.Energy))},
			Message{Topic: base + "/volume", Payload: []byte(fmt.Sprintf("%.2f", latest.Volume))},
			Message{Topic: base + "/energy_diff", Payload: []byte(fmt.Sprintf("%.2f", latest.EnergyDiff))},
			Message{Topic: base + "/month", Payload: []byte(latest.Month)},
		)
	}

	seriesJSON, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal series: %w", err)
	}
	out = append(out, Message{Topic: fmt.Sprintf("%s/%d/series", prefix, objectID), Payload: seriesJSON, Retained: true})
	return out, nil
}

func (p *Publisher) PublishSeries(objectID int64, series map[string]energy.MeterSeries) error {
	if !p.enabled {
		return nil
	}

	msgs, err := Messages(p.topicPrefix, objectID, series)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		token := p.client.Publish(m.Topic, 0, m.Retained, m.Payload)
		token.Wait()
		if token.Error() != nil {
			if m.Retained {
				return fmt.Errorf("failed to publish %s: %w", m.Topic, token.Error())
			}
			log.WithField("topic", m.Topic).WithError(token.Error()).Warn("Failed to publish")
		}
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled || p.client == nil {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(250)
	}
}
