package wsmqtt

import (
	"sync"

	"github.com/golang-io/wsmqtt/packet"
)

// infight holds QoS 2 publishes keyed by packet ID (inbound ones until
// their PUBREL arrives, and the outbound ones this client sends) plus, in
// rel, the outbound IDs awaiting PUBCOMP; QoS 1 publishes are not stored.
// Adapted from golang-io/mqtt's InFight. spec.md's publish
// section covers QoS 0/1; this table additionally carries a packet
// through the QoS 2 PUBREC/PUBREL/PUBCOMP handshake (SPEC_FULL.md §C).
//
// The Reconnect Open Question (SPEC_FULL.md §D) is handled by never
// clearing this table on Connect: a reconnect resumes any in-flight
// QoS 2 handshake from the previous session, matching the source's
// documented behavior of only resetting the WS layer and connection
// bits on reconnect.
type infight struct {
	mu   sync.RWMutex
	next uint16
	pubs map[uint16]*packet.PUBLISH
	rel  map[uint16]struct{} // outbound QoS 2: packet IDs PUBREC'd and PUBREL'd, awaiting PUBCOMP
}

func newInfight() *infight {
	return &infight{next: 1, pubs: make(map[uint16]*packet.PUBLISH), rel: make(map[uint16]struct{})}
}

// nextID returns a packet ID, wrapping 0xFFFF back to 1 (0 is reserved).
func (f *infight) nextID() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	if f.next == 0 {
		f.next = 1
	}
	return id
}

func (f *infight) put(pkt *packet.PUBLISH) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *infight) markRel(id uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rel[id] = struct{}{}
}

func (f *infight) clearRel(id uint16) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rel[id]
	delete(f.rel, id)
	return ok
}
