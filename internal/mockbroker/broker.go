// Package mockbroker is an in-process MQTT broker used only by this
// repo's own tests, standing in for the real broker spec.md §1 treats as
// an external collaborator. It speaks the wire protocol directly over a
// net.Conn (net.Pipe in tests), skipping the WebSocket/TLS framing the
// wsmqtt.Client normally tunnels through — those layers aren't part of
// the MQTT state machine under test.
//
// Adapted from golang-io/mqtt's server.go/conn.go/mem_topic.go: the
// per-connection session and topic fanout are kept, generalized from a
// net.Listener-driven server to one that accepts pre-established pipes
// handed to it by a test.
package mockbroker

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/golang-io/wsmqtt/packet"
	"github.com/golang-io/wsmqtt/topic"
)

// Broker holds the shared subscription state across every session
// Accept has been handed. It has no listener of its own: tests dial it
// by creating a net.Pipe and passing one end to Accept, the other to
// the Client under test.
type Broker struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	auth     func(username, password string) bool
}

// New creates a Broker. A nil auth accepts every CONNECT, matching
// golang-io/mqtt's CONFIG.GetAuth default when no credentials are
// configured.
func New(auth func(username, password string) bool) *Broker {
	return &Broker{sessions: make(map[*session]struct{}), auth: auth}
}

// Accept starts serving one connection in a new goroutine and returns
// immediately; the session runs until rwc is closed or a protocol
// violation occurs.
func (b *Broker) Accept(rwc io.ReadWriteCloser) {
	s := &session{broker: b, rwc: rwc, subs: topic.NewMemoryTrie()}
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	go s.serve()
}

func (b *Broker) forget(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

// publish fans a message out to every session whose subscription trie
// matches the topic, mirroring MemorySubscribed.Publish without the
// teacher's lazily-built per-topic subscriber cache (Broker's session
// count is small enough in tests to scan directly).
func (b *Broker) publish(msg *packet.Message, props *packet.PublishProperties) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.sessions {
		if _, ok := s.subs.Find(msg.TopicName); !ok {
			continue
		}
		s.deliver(msg, props)
	}
}

// session is the server side of one connection, the mockbroker
// counterpart of golang-io/mqtt's conn.
type session struct {
	broker *Broker

	rwc     io.ReadWriteCloser
	writeMu sync.Mutex

	version     byte
	clientID    string
	willTopic   string
	willPayload []byte

	subs    *topic.MemoryTrie
	infight infight

	packetID uint16
}

func (s *session) serve() {
	defer func() {
		s.broker.forget(s)
		_ = s.rwc.Close()
		if s.willTopic != "" {
			s.broker.publish(&packet.Message{TopicName: s.willTopic, Content: s.willPayload}, nil)
		}
	}()

	for {
		pkt, err := packet.Unpack(s.version, s.rwc)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("mockbroker: unpack: %v", err)
			}
			return
		}
		if !s.handle(pkt) {
			return
		}
	}
}

// handle processes one inbound packet, grounded on
// defaultHandler.ServeMQTT's switch in golang-io/mqtt's conn.go. It
// returns false when the session should close (DISCONNECT, or a write
// failure).
func (s *session) handle(pkt packet.Packet) bool {
	switch p := pkt.(type) {
	case *packet.CONNECT:
		s.version, s.clientID = p.Version, p.ClientID
		s.willTopic, s.willPayload = p.WillTopic, p.WillPayload
		connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x2}}
		if s.broker.auth != nil && !s.broker.auth(p.Username, p.Password) {
			connack.ConnectReturnCode = packet.ReasonCode{Code: 0x04}
		}
		return s.send(connack)

	case *packet.PUBLISH:
		switch p.FixedHeader.QoS {
		case 0:
			s.broker.publish(p.Message, p.Props)
			return true
		case 1:
			s.broker.publish(p.Message, p.Props)
			ack := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x4}, PacketID: p.PacketID}
			return s.send(ack)
		case 2:
			s.infight.put(p)
			rec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x5}, PacketID: p.PacketID}
			return s.send(rec)
		}
		return true

	case *packet.PUBACK:
		return true

	case *packet.PUBREC:
		rel := &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x6, QoS: 1}, PacketID: p.PacketID}
		return s.send(rel)

	case *packet.PUBREL:
		pub, ok := s.infight.get(p.PacketID)
		if ok {
			s.broker.publish(pub.Message, pub.Props)
		}
		comp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x7}, PacketID: p.PacketID}
		return s.send(comp)

	case *packet.PUBCOMP:
		return true

	case *packet.SUBSCRIBE:
		reasons := make([]packet.ReasonCode, 0, len(p.Subscriptions))
		for _, sub := range p.Subscriptions {
			if err := s.subs.Subscribe(sub.TopicFilter); err != nil {
				reasons = append(reasons, packet.ReasonCode{Code: 0x8F})
				continue
			}
			reasons = append(reasons, packet.ReasonCode{Code: sub.MaximumQoS})
		}
		suback := &packet.SUBACK{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x9}, PacketID: p.PacketID, ReasonCode: reasons}
		return s.send(suback)

	case *packet.UNSUBSCRIBE:
		for _, sub := range p.Subscriptions {
			s.subs.Unsubscribe(sub.TopicFilter)
		}
		unsuback := &packet.UNSUBACK{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0xB, QoS: 1}, PacketID: p.PacketID}
		return s.send(unsuback)

	case *packet.PINGREQ:
		pong := &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0xD}}
		return s.send(pong)

	case *packet.DISCONNECT:
		s.willTopic, s.willPayload = "", nil
		return false

	default:
		log.Printf("mockbroker: unhandled packet kind=%T", p)
		return true
	}
}

func (s *session) send(pkt packet.Packet) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := pkt.Pack(s.rwc); err != nil {
		log.Printf("mockbroker: send: %v", err)
		return false
	}
	return true
}

// deliver pushes a server-initiated PUBLISH to this session. Tests that
// want QoS 1/2 delivery toward the client under test can rely on this
// always sending QoS 0; higher QoS server-push isn't exercised by
// spec.md and isn't needed for this fixture.
func (s *session) deliver(msg *packet.Message, props *packet.PublishProperties) {
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: s.version, Kind: 0x3, QoS: 0},
		Message:     msg,
		Props:       props,
	}
	s.send(pub)
}

// infight mirrors golang-io/mqtt's InFight, scoped to one session
// instead of shared across the server.
type infight struct {
	mu   sync.Mutex
	pubs map[uint16]*packet.PUBLISH
}

func (f *infight) put(pkt *packet.PUBLISH) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubs == nil {
		f.pubs = make(map[uint16]*packet.PUBLISH)
	}
	f.pubs[pkt.PacketID] = pkt
}

func (f *infight) get(id uint16) (*packet.PUBLISH, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkt, ok := f.pubs[id]
	if ok {
		delete(f.pubs, id)
	}
	return pkt, ok
}
