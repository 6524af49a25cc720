package transport

import "github.com/skeldware/dropship/internal/protocol"

// Observer receives transport counters. Implementations must be safe for
// concurrent use and must not block: calls come from the read loop and
// the maintenance loop.
type Observer interface {
	PeerOpened()
	PeerClosed(kind CloseKind)
	PacketIn(kind protocol.PacketKind, size int)
	PacketOut(kind protocol.PacketKind, size int)
	Retransmits(n int)
	Malformed()
}

// NopObserver discards all counters.
type NopObserver struct{}

func (NopObserver) PeerOpened()                        {}
func (NopObserver) PeerClosed(CloseKind)               {}
func (NopObserver) PacketIn(protocol.PacketKind, int)  {}
func (NopObserver) PacketOut(protocol.PacketKind, int) {}
func (NopObserver) Retransmits(int)                    {}
func (NopObserver) Malformed()                         {}
