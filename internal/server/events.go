package server

import (
	"time"

	"github.com/skeldware/dropship/internal/events"
)

// Event names. Plugins subscribe by these strings.
const (
	EventRoomCreate        = "room.create"
	EventRoomSelectHost    = "room.selecthost"
	EventRoomBeforeDestroy = "room.beforedestroy"
	EventRoomDestroy       = "room.destroy"
	EventRoomFixedUpdate   = "room.fixedupdate"
	EventRoomEndGameIntent = "room.endgameintent"
	EventRoomGameStart     = "room.gamestart"
	EventRoomGameEnd       = "room.gameend"
	EventClientBroadcast   = "client.broadcast"
	EventClientLeave       = "client.leave"
	EventPlayerJoin        = "player.join"
	EventPlayerChat        = "player.chat"
)

// RoomCreateEvent fires after a room is registered. Observational.
type RoomCreateEvent struct {
	Room *Room
}

func (RoomCreateEvent) EventName() string { return EventRoomCreate }

// RoomSelectHostEvent fires before host authority is granted. Listeners
// may replace Candidate or cancel the promotion entirely.
type RoomSelectHostEvent struct {
	events.Cancel
	Room      *Room
	Candidate *Connection
}

func (RoomSelectHostEvent) EventName() string { return EventRoomSelectHost }

// RoomBeforeDestroyEvent fires before a room is torn down. Canceling
// keeps the room alive; shutdown ignores the veto.
type RoomBeforeDestroyEvent struct {
	events.Cancel
	Room *Room
}

func (RoomBeforeDestroyEvent) EventName() string { return EventRoomBeforeDestroy }

// RoomDestroyEvent fires after the room left the registry. Observational.
type RoomDestroyEvent struct {
	Room *Room
}

func (RoomDestroyEvent) EventName() string { return EventRoomDestroy }

// RoomFixedUpdateEvent fires each tick after state serialization.
// Canceling suppresses the tick's broadcast.
type RoomFixedUpdateEvent struct {
	events.Cancel
	Room  *Room
	Delta time.Duration
}

func (RoomFixedUpdateEvent) EventName() string { return EventRoomFixedUpdate }

// RoomEndGameIntentEvent fires for each queued end-game intent. The
// first intent no listener cancels ends the game.
type RoomEndGameIntentEvent struct {
	events.Cancel
	Room   *Room
	Intent string
	Reason GameOverReason
}

func (RoomEndGameIntentEvent) EventName() string { return EventRoomEndGameIntent }

// RoomGameStartEvent fires once the start protocol completes.
type RoomGameStartEvent struct {
	Room *Room
}

func (RoomGameStartEvent) EventName() string { return EventRoomGameStart }

// RoomGameEndEvent fires when a game ends and the room returns to the
// rejoin flow.
type RoomGameEndEvent struct {
	Room   *Room
	Reason GameOverReason
}

func (RoomGameEndEvent) EventName() string { return EventRoomGameEnd }

// ClientBroadcastEvent fires once per recipient of a game-data fan-out.
// Listeners may rewrite GameData for this recipient or cancel to skip
// them.
type ClientBroadcastEvent struct {
	events.Cancel
	Room *Room
	Conn *Connection
	// GameData holds the framed game-data messages about to be sent.
	GameData [][]byte
}

func (ClientBroadcastEvent) EventName() string { return EventClientBroadcast }

// ClientLeaveEvent fires when a connection leaves its room, for any
// reason. Observational.
type ClientLeaveEvent struct {
	Room *Room
	Conn *Connection
}

func (ClientLeaveEvent) EventName() string { return EventClientLeave }

// PlayerJoinEvent fires after a player is admitted to a room.
type PlayerJoinEvent struct {
	Room   *Room
	Conn   *Connection
	Player *Player
}

func (PlayerJoinEvent) EventName() string { return EventPlayerJoin }

// PlayerChatEvent fires for every chat line before it is relayed or
// interpreted as a command. Canceling swallows the line.
type PlayerChatEvent struct {
	events.Cancel
	Room    *Room
	Conn    *Connection
	Message string
}

func (PlayerChatEvent) EventName() string { return EventPlayerChat }
