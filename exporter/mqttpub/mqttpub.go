// Package mqttpub publishes accepted telemetry frames to an MQTT broker,
// one JSON message per frame on <topic>/<serial>.
package mqttpub

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"sonderx/telemetry"
)

var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher is an MQTT telemetry exporter.
//
// Thread Safety:
//   - The Paho client handles connection state in its own goroutines
//   - Publishes are fire-and-forget at QoS 0; a dropped frame is recovered
//     by the next one a second later
type Publisher struct {
	broker string
	port   int
	topic  string
	client mqtt.Client
}

// New connects to the broker and returns the publisher.
func New(broker string, port int, topic string) (*Publisher, error) {
	p := &Publisher{broker: broker, port: port, topic: topic}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", broker, port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("sonderx-%d", time.Now().Unix()))

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT: connected to %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
		log.Println("MQTT: will attempt to reconnect...")
	})

	p.client = mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...", brokerURL)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttpub: connect %s: %w", brokerURL, token.Error())
	}
	return p, nil
}

// Add publishes one frame.
func (p *Publisher) Add(t *telemetry.Telemetry) error {
	payload, err := fastjson.Marshal(t)
	if err != nil {
		return fmt.Errorf("mqttpub: marshal frame for %s: %w", t.ID, err)
	}
	// QoS 0 and no token wait: don't block the fan-out on the broker.
	p.client.Publish(p.topic+"/"+t.ID, 0, false, payload)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	log.Println("MQTT: publisher stopped")
	return nil
}
