// Command mqtt-client is a small demonstration of the wsmqtt.Client API:
// connect to a wss:// endpoint, log every inbound message, and publish a
// timestamp once a second until interrupted. It does not subscribe to any
// filter, so only messages the broker pushes unasked are logged. Adapted from
// golang-io/mqtt's cmd/mqtt-client, generalized from its package-level
// Client/ConnectAndSubscribe reconnect loop to an explicit Connect +
// errgroup-managed publish loop against the new per-instance API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-io/wsmqtt"
	"github.com/golang-io/wsmqtt/packet"
	"golang.org/x/sync/errgroup"
)

func main() {
	url := flag.String("url", "wss://127.0.0.1:8443/mqtt", "broker websocket URL")
	metricsAddr := flag.String("metrics", "", "if set, serve Prometheus metrics on this address")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())

	c := wsmqtt.New(*url, func(level, msg string) { log.Printf("[%s] %s", level, msg) })
	c.OnMessage(func(msg *packet.Message) {
		log.Printf("on: %s", msg.String())
	})

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.Connect(ctx, wsmqtt.WithClientID("mqtt-client-cli"))
	})

	group.Go(func() error {
		if *metricsAddr == "" {
			return nil
		}
		return c.ServeMetrics(ctx, *metricsAddr)
	})

	group.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if !c.Connected() {
					continue
				}
				if err := c.Publish("12345", []byte(time.Now().Format("2006-01-02 15:04:05")), 0, false); err != nil {
					log.Printf("publish: %v", err)
				}
			}
		}
	})

	group.Go(func() error {
		defer cancel()
		ignore := make(chan os.Signal, 1)
		sig := make(chan os.Signal, 1)
		signal.Notify(ignore, syscall.SIGHUP)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-sig:
			return fmt.Errorf("got signal: %s", s)
		}
	})

	if err := group.Wait(); err != nil {
		_ = c.Disconnect(context.Background(), 5*time.Second)
		log.Fatal(err)
	}
}
