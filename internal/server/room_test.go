package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/skeldware/dropship/internal/anticheat"
	"github.com/skeldware/dropship/internal/authapi"
	"github.com/skeldware/dropship/internal/config"
	"github.com/skeldware/dropship/internal/events"
	"github.com/skeldware/dropship/internal/protocol"
	"github.com/skeldware/dropship/internal/transport"
)

// fakeLink is an in-memory Link that records everything sent through
// it.
type fakeLink struct {
	ip string

	mu         sync.Mutex
	reliable   [][]byte
	unreliable [][]byte
	closed     bool
	reason     protocol.DisconnectReason
}

func (f *fakeLink) SendReliable(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = append(f.reliable, append([]byte(nil), payload...))
	return nil
}

func (f *fakeLink) SendUnreliable(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreliable = append(f.unreliable, append([]byte(nil), payload...))
	return nil
}

func (f *fakeLink) Disconnect(reason protocol.DisconnectReason, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}

func (f *fakeLink) RoundTripPing() time.Duration { return 42 * time.Millisecond }

func (f *fakeLink) RemoteIP() string {
	if f.ip == "" {
		return "127.0.0.1"
	}
	return f.ip
}

func (f *fakeLink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeLink) Reliable() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.reliable...)
}

func (f *fakeLink) Unreliable() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.unreliable...)
}

func (f *fakeLink) DisconnectReason() protocol.DisconnectReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeLink) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = nil
	f.unreliable = nil
}

func newTestWorker(cfg config.Config) *Worker {
	return &Worker{
		cfg:          cfg,
		hub:          events.NewHub(),
		gate:         anticheat.NewGate(),
		resolver:     authapi.Anonymous{},
		metrics:      NullMetrics{},
		rooms:        make(map[protocol.GameCode]*Room),
		conns:        make(map[*transport.Peer]*Connection),
		joinLimiters: make(map[string]*rate.Limiter),
	}
}

// newTestRoom builds a room whose methods tests call directly, without
// the room goroutine.
func newTestRoom(w *Worker) *Room {
	code := protocol.RandomGameCode()
	r := newRoom(w, code, protocol.DefaultGameSettings())
	w.rooms[code] = r
	return r
}

func joinClient(r *Room, id uint32, name string) (*Connection, *fakeLink) {
	link := &fakeLink{ip: fmt.Sprintf("10.0.0.%d", id%250)}
	c := newTestConnection(id, link, transport.Hello{Username: name}, nil)
	r.handleJoin(c)
	return c, link
}

type rootMsg struct {
	tag  byte
	body []byte
}

func rootMessages(t *testing.T, link *fakeLink) []rootMsg {
	t.Helper()
	var out []rootMsg
	for _, pkt := range link.Reliable() {
		rd := protocol.NewReader(pkt)
		for rd.Remaining() > 0 {
			tag, body, err := rd.ReadMessage()
			require.NoError(t, err)
			out = append(out, rootMsg{tag: tag, body: body.RemainingBytes()})
		}
	}
	return out
}

// lastJoinedGame parses the most recent JoinedGame the link received.
func lastJoinedGame(t *testing.T, link *fakeLink) (clientID, hostID uint32, ok bool) {
	t.Helper()
	for _, m := range rootMessages(t, link) {
		if m.tag != byte(protocol.RootJoinedGame) {
			continue
		}
		rd := protocol.NewReader(m.body)
		_, err := rd.ReadInt32()
		require.NoError(t, err)
		clientID, err = rd.ReadUint32()
		require.NoError(t, err)
		hostID, err = rd.ReadUint32()
		require.NoError(t, err)
		ok = true
	}
	return clientID, hostID, ok
}

// lastHostView returns the host field of the most recent temp-join host
// update the link received.
func lastHostView(t *testing.T, link *fakeLink) (uint32, bool) {
	t.Helper()
	var host uint32
	var found bool
	for _, m := range rootMessages(t, link) {
		if m.tag != byte(protocol.RootJoinGame) {
			continue
		}
		rd := protocol.NewReader(m.body)
		_, err := rd.ReadInt32()
		require.NoError(t, err)
		joined, err := rd.ReadUint32()
		require.NoError(t, err)
		h, err := rd.ReadUint32()
		require.NoError(t, err)
		if joined == protocol.ClientIDTemp {
			host, found = h, true
		}
	}
	return host, found
}

// countJoinNotices counts JoinGame roots announcing a specific client,
// ignoring the temp-join host updates.
func countJoinNotices(t *testing.T, link *fakeLink, clientID uint32) int {
	t.Helper()
	n := 0
	for _, m := range rootMessages(t, link) {
		if m.tag != byte(protocol.RootJoinGame) {
			continue
		}
		rd := protocol.NewReader(m.body)
		_, err := rd.ReadInt32()
		require.NoError(t, err)
		joined, err := rd.ReadUint32()
		require.NoError(t, err)
		if joined == clientID {
			n++
		}
	}
	return n
}

func countRoot(t *testing.T, link *fakeLink, tag protocol.RootTag) int {
	t.Helper()
	n := 0
	for _, m := range rootMessages(t, link) {
		if m.tag == byte(tag) {
			n++
		}
	}
	return n
}

func TestClassicFirstJoinerBecomesHost(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, linkA := joinClient(r, 1001, "Alice")

	clientID, hostID, ok := lastJoinedGame(t, linkA)
	require.True(t, ok)
	assert.Equal(t, a.ClientID, clientID)
	assert.Equal(t, a.ClientID, hostID)
	assert.Equal(t, a.ClientID, r.hostID)

	b, linkB := joinClient(r, 1002, "Bob")
	_, hostID, ok = lastJoinedGame(t, linkB)
	require.True(t, ok)
	assert.Equal(t, a.ClientID, hostID)
	assert.Equal(t, 1, countJoinNotices(t, linkA, b.ClientID), "existing player told about the joiner")
	assert.NotNil(t, r.players[b.ClientID])
}

func TestJoinFullRoomRefused(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)
	r.settings.MaxPlayers = 1

	joinClient(r, 1001, "Alice")
	_, linkB := joinClient(r, 1002, "Bob")

	assert.True(t, linkB.Closed())
	assert.Equal(t, protocol.ReasonGameFull, linkB.DisconnectReason())
}

func TestJoinStartedRoomRefused(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)
	joinClient(r, 1001, "Alice")
	r.state = RoomStarted

	_, linkB := joinClient(r, 1002, "Bob")
	assert.Equal(t, protocol.ReasonGameStarted, linkB.DisconnectReason())
}

func TestEmptyRoomDestroyedAfterCreateTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Rooms.CreateTimeout = 10 * time.Second
	w := newTestWorker(cfg)
	r := newTestRoom(w)

	r.tick(r.createdAt.Add(5 * time.Second))
	assert.Equal(t, RoomNotStarted, r.state)

	r.tick(r.createdAt.Add(11 * time.Second))
	assert.Equal(t, RoomDestroyed, r.state)
	assert.Nil(t, w.rooms[r.code])
}

func TestRoomDestroyedWhenLastPlayerLeaves(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	b, _ := joinClient(r, 1002, "Bob")

	r.handleLeave(a, protocol.ReasonExitGame)
	assert.Equal(t, RoomNotStarted, r.state)

	r.handleLeave(b, protocol.ReasonExitGame)
	assert.Equal(t, RoomDestroyed, r.state)
	assert.Nil(t, w.rooms[r.code])
}

func TestHostLeaveClassicPromotesNext(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	b, linkB := joinClient(r, 1002, "Bob")
	require.Equal(t, a.ClientID, r.hostID)

	r.handleLeave(a, protocol.ReasonExitGame)
	assert.Equal(t, b.ClientID, r.hostID)

	host, ok := lastHostView(t, linkB)
	require.True(t, ok)
	assert.Equal(t, b.ClientID, host)
}

func TestKickAndBan(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, linkA := joinClient(r, 1001, "Alice")
	b, linkB := joinClient(r, 1002, "Bob")

	r.handleKick(a, b.ClientID, true)

	assert.True(t, linkB.Closed())
	assert.Equal(t, protocol.ReasonBanned, linkB.DisconnectReason())
	assert.Equal(t, 1, countRoot(t, linkA, protocol.RootKickPlayer))
	assert.Nil(t, r.players[b.ClientID])

	// Same address, new connection: the ban sticks.
	link2 := &fakeLink{ip: linkB.RemoteIP()}
	c2 := newTestConnection(1003, link2, transport.Hello{Username: "Bob"}, nil)
	r.handleJoin(c2)
	assert.Equal(t, protocol.ReasonBanned, link2.DisconnectReason())
}

func TestKickFromNonHostIgnored(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	joinClient(r, 1001, "Alice")
	b, _ := joinClient(r, 1002, "Bob")
	c, linkC := joinClient(r, 1003, "Cleo")

	r.handleKick(b, c.ClientID, false)
	assert.False(t, linkC.Closed())
	assert.NotNil(t, r.players[c.ClientID])
}

func TestAlterGamePrivacy(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	_, linkB := joinClient(r, 1002, "Bob")
	linkB.reset()

	r.handleAlterGame(a, alterGamePrivacy, true)
	assert.Equal(t, PrivacyPublic, r.privacy)
	assert.True(t, r.Summary().Public)
	assert.Equal(t, 1, countRoot(t, linkB, protocol.RootAlterGame))

	r.handleAlterGame(a, alterGamePrivacy, false)
	assert.Equal(t, PrivacyPrivate, r.privacy)
}

func TestEndedRejoinFlow(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	b, linkB := joinClient(r, 1002, "Bob")

	r.handleStartGame(a)
	require.Equal(t, RoomStarted, r.state)
	r.endGame(GameOverHumansByTask)
	require.Equal(t, RoomEnded, r.state)
	assert.Len(t, r.connections, 2, "connections survive the end of a game")
	assert.Empty(t, r.players)

	// The non-host rejoins first and waits.
	linkB.reset()
	r.handleJoin(b)
	assert.Equal(t, 1, countRoot(t, linkB, protocol.RootWaitForHost))
	assert.Nil(t, r.players[b.ClientID])

	// The host rejoins: lobby reopens, the waiter is released.
	r.handleJoin(a)
	assert.Equal(t, RoomNotStarted, r.state)
	assert.NotNil(t, r.players[a.ClientID])
	assert.NotNil(t, r.players[b.ClientID])
	_, _, ok := lastJoinedGame(t, linkB)
	assert.True(t, ok)
}

func TestEndGameIntentDrain(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	joinClient(r, 1002, "Bob")
	r.handleStartGame(a)
	require.Equal(t, RoomStarted, r.state)

	r.queueIntent("tasks complete", GameOverHumansByTask)
	r.queueIntent("players dead", GameOverImpostorByKill)
	r.drainIntents()

	assert.Equal(t, RoomEnded, r.state)
	assert.Empty(t, r.intents)
}

func TestEndGameIntentVeto(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	a, _ := joinClient(r, 1001, "Alice")
	joinClient(r, 1002, "Bob")
	r.handleStartGame(a)

	unsub := w.hub.Subscribe(EventRoomEndGameIntent, func(ev events.Event) {
		ev.(*RoomEndGameIntentEvent).Cancel.Cancel()
	})
	defer unsub()

	r.queueIntent("tasks complete", GameOverHumansByTask)
	r.drainIntents()
	assert.Equal(t, RoomStarted, r.state, "vetoed intent must not end the game")
}

func TestBeforeDestroyVeto(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)
	a, _ := joinClient(r, 1001, "Alice")

	unsub := w.hub.Subscribe(EventRoomBeforeDestroy, func(ev events.Event) {
		ev.(*RoomBeforeDestroyEvent).Cancel.Cancel()
	})
	r.handleLeave(a, protocol.ReasonExitGame)
	assert.NotEqual(t, RoomDestroyed, r.state)
	unsub()

	r.destroy()
	assert.Equal(t, RoomDestroyed, r.state)
}

func TestSelectHostVeto(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)

	unsub := w.hub.Subscribe(EventRoomSelectHost, func(ev events.Event) {
		ev.(*RoomSelectHostEvent).Cancel.Cancel()
	})
	defer unsub()

	joinClient(r, 1001, "Alice")
	assert.Equal(t, protocol.ClientIDNil, r.hostID, "vetoed selection leaves the room hostless")
}

func TestSummarySnapshot(t *testing.T) {
	w := newTestWorker(config.Default())
	r := newTestRoom(w)
	joinClient(r, 1001, "Alice")

	s := r.Summary()
	assert.Equal(t, r.code.String(), s.Code)
	assert.Equal(t, 1, s.Players)
	assert.Equal(t, "Alice", s.HostName)
	assert.Equal(t, RoomNotStarted.String(), s.State)
	assert.False(t, s.Public)
}
