package wsmqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-io/wsmqtt/internal/mockbroker"
	"github.com/golang-io/wsmqtt/packet"
)

// newTestClient wires a Client to a mockbroker.Broker over net.Pipe,
// bypassing dial/transport.go entirely (spec.md §1: WS/TLS framing is
// an external collaborator, not part of what these tests drive).
func newTestClient(t *testing.T, broker *mockbroker.Broker) *Client {
	t.Helper()
	c := New("wss://example.test/mqtt", nil)
	c.dialFunc = func(ctx context.Context, _ string, _ ConnectOptions) (wireConn, error) {
		client, server := net.Pipe()
		broker.Accept(server)
		return client, nil
	}
	return c
}

func TestClient_ConnectSuccess(t *testing.T) {
	broker := mockbroker.New(nil)
	c := newTestClient(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, WithClientID("conn-ok")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Connected() = false after successful Connect")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClient_ConnectAuthRejected(t *testing.T) {
	broker := mockbroker.New(func(username, password string) bool { return false })
	c := newTestClient(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx, WithClientID("conn-bad-auth"), WithCredentials("u", "p"))
	if err == nil {
		t.Fatal("expected Connect to fail on a rejected CONNACK")
	}
	if c.Connected() {
		t.Fatal("Connected() = true after a rejected CONNACK")
	}
}

func TestClient_PublishSubscribeRoundTrip(t *testing.T) {
	broker := mockbroker.New(nil)
	pub := newTestClient(t, broker)
	sub := newTestClient(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.Connect(ctx, WithClientID("pub")); err != nil {
		t.Fatalf("pub Connect: %v", err)
	}
	if err := sub.Connect(ctx, WithClientID("sub")); err != nil {
		t.Fatalf("sub Connect: %v", err)
	}

	received := make(chan string, 1)
	sub.OnMessage(func(msg *packet.Message) {
		received <- msg.TopicName
	})

	if err := sub.Subscribe(ctx, []string{"sensors/+/temp"}, 1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := pub.Publish("sensors/kitchen/temp", []byte("21.5"), 0, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case topic := <-received:
		if topic != "sensors/kitchen/temp" {
			t.Fatalf("got topic %q, want sensors/kitchen/temp", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}

	_ = pub.Close()
	_ = sub.Close()
}

func TestClient_DisconnectGraceful(t *testing.T) {
	broker := mockbroker.New(nil)
	c := newTestClient(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, WithClientID("disc")); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Disconnect(ctx, 400*time.Millisecond); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.Connected() {
		t.Fatal("Connected() = true after Disconnect")
	}
}
