// Command loadgen opens many concurrent wsmqtt.Client connections
// against a broker and has each publish on a timer, the way
// golang-io/mqtt's cmd/benchmark/main2.go drives concurrent paho
// connections against a broker. -baseline switches every connection
// over to that original paho.mqtt.golang driver (same pahoMqttStart
// shape, against a raw tcp:// broker instead of wss://) so the two can
// be run side by side for comparison.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
	"github.com/golang-io/wsmqtt"
)

func main() {
	url := flag.String("url", "wss://127.0.0.1:8443/mqtt", "broker websocket URL")
	conns := flag.Int("conns", 100, "number of concurrent client connections")
	qos := flag.Int("qos", 0, "publish QoS (0, 1, or 2)")
	interval := flag.Duration("interval", time.Second, "publish interval per connection")
	duration := flag.Duration("duration", 30*time.Second, "total run duration")
	baseline := flag.Bool("baseline", false, "drive paho.mqtt.golang connections instead of wsmqtt.Client (url must be a tcp:// broker)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *conns; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if *baseline {
				runPaho(ctx, *url, i, byte(*qos), *interval)
				return
			}
			runOne(ctx, *url, i, uint8(*qos), *interval)
		}()
	}
	wg.Wait()
}

func runOne(ctx context.Context, url string, i int, qos uint8, interval time.Duration) {
	id := requests.GenId()
	c := wsmqtt.New(url, nil)
	if err := c.Connect(ctx, wsmqtt.WithClientID(id)); err != nil {
		log.Printf("conn %d: connect: %v", i, err)
		return
	}
	defer func() { _ = c.Disconnect(context.Background(), 5*time.Second) }()

	topic := fmt.Sprintf("loadgen/%02d", i)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := fmt.Sprintf("loadgen:test-%02d", i)
			if err := c.Publish(topic, []byte(payload), qos, false); err != nil {
				log.Printf("conn %d: publish: %v", i, err)
			}
		}
	}
}

// runPaho is golang-io/mqtt's cmd/benchmark/main2.go pahoMqttStart,
// generalized to take the broker URL, connection index, QoS and publish
// interval as parameters instead of closing over package-level
// constants, and to respect ctx/interval instead of a fixed one-second
// timer running forever.
func runPaho(ctx context.Context, url string, i int, qos byte, interval time.Duration) {
	id := requests.GenId()
	connOpts := paho_mqtt.NewClientOptions().AddBroker(url).SetClientID(id).SetCleanSession(true)
	connOpts.SetAutoReconnect(false)

	client := paho_mqtt.NewClient(connOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("conn %d: connect: %v", i, token.Error())
		return
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("loadgen/%02d", i)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := fmt.Sprintf("paho_mqtt:test-%02d", i)
			if token := client.Publish(topic, qos, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("conn %d: publish: %v", i, token.Error())
			}
		}
	}
}
