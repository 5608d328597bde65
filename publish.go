package wsmqtt

import (
	"context"
	"fmt"

	"github.com/golang-io/wsmqtt/packet"
)

// Publish sends a QoS 0/1/2 PUBLISH, mirroring the source's
// mqtt_wss_publish: a thin wrapper over PublishPID that discards the
// packet ID (SPEC_FULL.md §C). qos is clamped to the low two bits and
// retain to its own bit, matching the source's MQTT_WSS_PUB_QOSMASK /
// MQTT_WSS_PUB_RETAIN flag encoding.
func (c *Client) Publish(topic string, payload []byte, qos uint8, retain bool) error {
	_, err := c.PublishPID(topic, payload, qos, retain)
	return err
}

// PublishPID sends a PUBLISH and returns the packet ID assigned to it
// (0 for QoS 0, which carries no packet ID). Grounded on the source's
// mqtt_wss_publish_pid.
func (c *Client) PublishPID(topic string, payload []byte, qos uint8, retain bool) (uint16, error) {
	if c.disconnecting.Load() {
		return 0, ErrDisconnecting
	}
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}
	if len(payload) > MaxSendSize {
		return 0, ErrMessageTooLarge
	}

	qos &= QOSMASK
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: PUBLISH, QoS: qos},
		Message:     &packet.Message{TopicName: topic, Content: payload},
	}
	if retain {
		pub.FixedHeader.Retain = 1
	}

	var id uint16
	if qos > 0 {
		id = c.infight.nextID()
		pub.PacketID = id
		if qos == 2 {
			c.infight.put(pub)
		}
	}

	if err := c.write(pub); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnDrop, err)
	}
	return id, nil
}

// Subscribe sends a SUBSCRIBE for one or more topic filters and waits
// for the matching SUBACK, mirroring golang-io/mqtt's Client.Subscribe
// generalized from the options-supplied, connect-time-only subscription
// list to an explicit call any time after Connect.
func (c *Client) Subscribe(ctx context.Context, filters []string, maxQoS uint8) error {
	if c.disconnecting.Load() {
		return ErrDisconnecting
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{TopicFilter: f, MaximumQoS: maxQoS & QOSMASK})
	}
	pid := c.infight.nextID()
	sub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      pid,
		Subscriptions: subs,
	}
	if err := c.write(sub); err != nil {
		return fmt.Errorf("%w: %v", ErrConnDrop, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.svcErr:
		return fmt.Errorf("%w: %v", ErrConnDrop, err)
	case pkt, ok := <-c.recv[SUBACK]:
		if !ok {
			return ErrConnDrop
		}
		suback, ok := pkt.(*packet.SUBACK)
		if !ok {
			return fmt.Errorf("%w: unexpected packet in SUBACK slot", ErrProtoMQTT)
		}
		for _, rc := range suback.ReasonCode {
			if rc.Code >= 0x80 {
				return fmt.Errorf("wsmqtt: subscribe refused: %v", rc)
			}
		}
	}
	return nil
}

// Unsubscribe sends an UNSUBSCRIBE and waits for UNSUBACK. Supplemental
// to spec.md's publish/subscribe section (SPEC_FULL.md §C): the source
// does not expose it, but the teacher's packet codec already supports
// the wire format and no Non-goal excludes it.
func (c *Client) Unsubscribe(ctx context.Context, filters []string) error {
	if c.disconnecting.Load() {
		return ErrDisconnecting
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{TopicFilter: f})
	}
	pid := c.infight.nextID()
	unsub := &packet.UNSUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.version, Kind: UNSUBSCRIBE, QoS: 1},
		PacketID:      pid,
		Subscriptions: subs,
	}
	if err := c.write(unsub); err != nil {
		return fmt.Errorf("%w: %v", ErrConnDrop, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.svcErr:
		return fmt.Errorf("%w: %v", ErrConnDrop, err)
	case _, ok := <-c.recv[UNSUBACK]:
		if !ok {
			return ErrConnDrop
		}
	}
	return nil
}
