package wsmqtt

import (
	"context"
	"time"

	"github.com/golang-io/wsmqtt/packet"
)

// Disconnect runs the graceful four-phase shutdown spec.md §4.8
// describes, each phase bounded by timeout/4 exactly as the source's
// mqtt_wss_disconnect splits its budget across
// mqtt_wss_service_all/mqtt_disconnect/ws close/final drain. Unlike the
// source's non-blocking service loop, each Go phase simply waits on a
// channel/timer, but the four-way budget split and ordering match.
func (c *Client) Disconnect(ctx context.Context, timeout time.Duration) error {
	c.disconnecting.Store(true)
	phase := timeout / 4

	// Phase 1: block new application sends (done above) and let any
	// writes already in flight land. This engine has no user-space send
	// buffer to drain (writes are synchronous), so phase 1 is a no-op
	// wait, preserved as a distinct phase to keep the budget split
	// legible and to match spec.md's step numbering.
	c.sleep(ctx, phase)

	// Phase 2: MQTT DISCONNECT.
	disconnect := &packet.DISCONNECT{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: DISCONNECT}}
	if err := c.writeWithDeadline(disconnect, phase); err != nil {
		c.logger.Warn("disconnect: failed to send MQTT DISCONNECT", "err", err)
	}

	// Phase 3: WebSocket close handshake, status 1000 normal closure
	// (spec.md §4.1/§4.8 — the status the source's `htobe16(1000)` close
	// frame carries). golang.org/x/net/websocket's Conn.Close sends the
	// RFC 6455 closing handshake itself.
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("disconnect: websocket close handshake failed", "err", err)
		}
	}
	c.sleep(ctx, phase)

	// Phase 4: wait for the peer to close, or time out and force-close.
	// Some MQTT/WSS servers close the socket on receipt of the MQTT
	// DISCONNECT without waiting for the WebSocket close handshake,
	// matching the source's comment on this exact phase.
	select {
	case <-c.done:
	case <-time.After(phase):
	case <-ctx.Done():
	}

	return c.Close()
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Client) writeWithDeadline(pkt packet.Packet, d time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- c.write(pkt) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(d):
		return ErrConnDrop
	}
}
