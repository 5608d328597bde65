package wsmqtt

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang-io/wsmqtt/packet"
)

// keepAliveClamp is the fraction of the keep-alive interval after which a
// PINGREQ is due, matching the source's t_till_next_keepalive_ms "SEND IN
// ADVANCE" comment and spec.md §4.3/§4.6.
const keepAliveClamp = 0.75

// incomingPacket is what the reader goroutine hands to the service loop.
type incomingPacket struct {
	pkt packet.Packet
	err error
}

// runService is this engine's poll(2) substitute (SPEC_FULL.md §D): a
// reader goroutine and a keep-alive ticker feed a single select loop
// instead of blocking on a two-descriptor poll() over a socket fd and a
// wakeup pipe. The wakeup channel still exists (wakeup.go would be this
// file's home for it, merged in here since it is one field) so that
// write() wakes the loop the way the source's mqtt_wss_wakeup() wakes
// poll() via its pipe. The loop takes no action on it: write() already
// records lastSend, which the keep-alive check reads.
func (c *Client) runService(ctx context.Context) {
	defer close(c.done)

	incoming := make(chan incomingPacket, 1)
	go c.readLoop(ctx, incoming)

	interval := c.opts.KeepAlive
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * keepAliveClamp))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.wakeup:
			// Coalesced wakeup: a publish/subscribe happened. No action
			// needed beyond looping — the ticker alone governs PINGREQ
			// timing, exactly as the source's poll() loop rearms itself
			// every cycle regardless of which fd caused the wakeup.

		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}
			idle := time.Since(time.Unix(0, c.lastSend.Load()))
			if idle < time.Duration(float64(interval)*keepAliveClamp) {
				continue
			}
			ping := &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PINGREQ}}
			if err := c.write(ping); err != nil {
				c.fail(ErrConnDrop, err)
				return
			}

		case in := <-incoming:
			if in.err != nil {
				if in.err == io.EOF {
					c.fail(ErrConnDrop, in.err)
				} else {
					c.fail(ErrProtoMQTT, in.err)
				}
				return
			}
			if err := c.dispatch(in.pkt); err != nil {
				c.fail(ErrProtoMQTT, err)
				return
			}
		}
	}
}

// readLoop is the engine's "reader half" of the PAL bridge: it decodes
// MQTT control packets directly off the WebSocket connection, the same
// packet.Unpack call golang-io/mqtt's Client.unpack uses, generalized
// from a fire-and-forget goroutine into one that reports errors back to
// the service loop instead of silently returning.
func (c *Client) readLoop(ctx context.Context, out chan<- incomingPacket) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		cr := &countingReader{r: conn}
		pkt, err := packet.Unpack(c.version, cr)
		if c.stats != nil {
			c.stats.ByteReceived.Add(float64(cr.n))
		}
		if err != nil {
			select {
			case out <- incomingPacket{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if c.stats != nil {
			c.stats.PacketReceived.Inc()
		}
		select {
		case out <- incomingPacket{pkt: pkt}:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch handles the packets that need an immediate engine-level
// response (PUBLISH QoS1/2 acks, PUBREL->PUBCOMP) and routes everything
// else to the per-kind recv channel, the same switch golang-io/mqtt's
// ServeMessage performs, folded into the single service loop instead of
// a separately-pumped goroutine.
func (c *Client) dispatch(pkt packet.Packet) error {
	switch p := pkt.(type) {
	case *packet.PUBLISH:
		return c.handlePublish(p)
	case *packet.PUBACK:
		if c.onPuback != nil {
			go c.onPuback(p.PacketID)
		}
		return nil
	case *packet.PUBREC:
		return c.handlePubrec(p)
	case *packet.PUBREL:
		return c.handlePubrel(p)
	case *packet.PUBCOMP:
		c.infight.clearRel(p.PacketID)
		if c.onPuback != nil {
			go c.onPuback(p.PacketID)
		}
		return nil
	default:
		select {
		case c.recv[pkt.Kind()] <- pkt:
		default:
			// Slot full: a prior response of the same kind was never
			// consumed. Drop rather than block the service loop.
			c.logger.Warn("dropped unconsumed packet", "kind", pkt.Kind())
		}
	}
	return nil
}

func (c *Client) handlePublish(pub *packet.PUBLISH) error {
	c.logger.Debug("publish received", "topic", pub.Message.TopicName, "qos", pub.FixedHeader.QoS)
	switch pub.FixedHeader.QoS {
	case 0:
	case 1:
		ack := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBACK}, PacketID: pub.PacketID}
		if err := c.write(ack); err != nil {
			return err
		}
	case 2:
		rec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREC}, PacketID: pub.PacketID}
		if err := c.write(rec); err != nil {
			return err
		}
		c.infight.put(pub)
		return nil // delivered to the application only once PUBCOMP completes
	}
	if c.onMessage != nil {
		go c.onMessage(pub.Message)
	}
	return nil
}

// handlePubrec completes the outbound half of the QoS 2 handshake: once
// the broker has PUBREC'd a publish this client sent, the client must
// reply PUBREL and hold that state until PUBCOMP arrives (spec.md §4's
// QoS 2 state machine, mirrored from mqtt_wss_client.c's PUBREC
// handling). infight.rel tracks the packet IDs waiting on PUBCOMP.
func (c *Client) handlePubrec(rec *packet.PUBREC) error {
	c.infight.markRel(rec.PacketID)
	rel := &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBREL, QoS: 1}, PacketID: rec.PacketID}
	return c.write(rel)
}

func (c *Client) handlePubrel(rel *packet.PUBREL) error {
	pub, ok := c.infight.get(rel.PacketID)
	if !ok {
		return nil // duplicate PUBREL for an already-completed exchange
	}
	comp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBCOMP}, PacketID: rel.PacketID}
	if err := c.write(comp); err != nil {
		return err
	}
	if c.onMessage != nil {
		go c.onMessage(pub.Message)
	}
	return nil
}

func (c *Client) fail(sentinel, cause error) {
	c.connected.Store(false)
	if c.stats != nil {
		c.stats.ActiveConnections.Set(0)
	}
	cause = fmt.Errorf("%w: %v", sentinel, cause)
	c.logger.Error("service loop exiting", "err", cause)
	select {
	case c.svcErr <- cause:
	default:
	}
}

// write serializes a Pack call against the shared connection, matching
// conn.go's conn.mu around response writes, and updates send-side
// bookkeeping (spec.md §4.6's "update last-send timestamp" step) plus
// the wakeup nudge described in runService.
func (c *Client) write(pkt packet.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnDrop
	}

	cw := &countingWriter{w: conn}
	if err := pkt.Pack(cw); err != nil {
		return err
	}
	c.lastSend.Store(time.Now().UnixNano())
	if c.stats != nil {
		c.stats.PacketSent.Inc()
		c.stats.ByteSent.Add(float64(cw.n))
	}
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
