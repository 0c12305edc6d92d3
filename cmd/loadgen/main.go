// Command loadgen drives a running broker with a configurable number of
// simulated publishers, for manual load testing and as a runnable example
// of the paho.mqtt.golang client against this broker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type reading struct {
	Seq       int     `json:"seq"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	topicPrefix := flag.String("topic-prefix", "loadgen", "Topic prefix; each publisher gets <prefix>/<id>")
	publishers := flag.Int("publishers", 4, "Number of simulated publishing clients")
	interval := flag.Duration("interval", 2*time.Second, "Interval between published readings per publisher")
	jitter := flag.Float64("jitter", 5.0, "Gaussian noise applied to the published value")

	flag.Parse()

	if *publishers <= 0 {
		log.Fatal("publishers must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	for i := 0; i < *publishers; i++ {
		go runPublisher(ctx, done, i, *brokerAddr, *topicPrefix, *interval, *jitter)
	}

	for i := 0; i < *publishers; i++ {
		<-done
	}
}

func runPublisher(ctx context.Context, done chan<- struct{}, id int, brokerAddr, topicPrefix string, interval time.Duration, jitter float64) {
	defer func() { done <- struct{}{} }()

	clientID := fmt.Sprintf("loadgen-%d-%d", id, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(brokerAddr).SetClientID(clientID).SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("publisher %d: failed to connect: %v", id, token.Error())
		return
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("%s/%d", topicPrefix, id)
	log.Printf("publisher %d connected, publishing to %s", id, topic)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	publish := func() {
		seq++
		payload := reading{
			Seq:       seq,
			Value:     rand.NormFloat64() * jitter,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("publisher %d: encode error: %v", id, err)
			return
		}
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publisher %d: publish error: %v", id, err)
		}
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}
