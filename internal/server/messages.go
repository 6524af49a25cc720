package server

import (
	"github.com/skeldware/dropship/internal/protocol"
)

// Root message builders. Each returns a fully framed
// [len u16le][tag u8][payload] message ready to coalesce into a packet.

func hostGameMessage(code protocol.GameCode) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootHostGame))
	w.WriteInt32(int32(code))
	w.EndMessage()
	return w.Take()
}

func joinGameMessage(code protocol.GameCode, clientID, hostID uint32) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootJoinGame))
	w.WriteInt32(int32(code))
	w.WriteUint32(clientID)
	w.WriteUint32(hostID)
	w.EndMessage()
	return w.Take()
}

func joinedGameMessage(code protocol.GameCode, clientID, hostID uint32, others []uint32) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootJoinedGame))
	w.WriteInt32(int32(code))
	w.WriteUint32(clientID)
	w.WriteUint32(hostID)
	w.WritePackedUint32(uint32(len(others)))
	for _, id := range others {
		w.WritePackedUint32(id)
	}
	w.EndMessage()
	return w.Take()
}

func removePlayerMessage(code protocol.GameCode, removed, hostID uint32, reason protocol.DisconnectReason) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootRemovePlayer))
	w.WriteInt32(int32(code))
	w.WriteUint32(removed)
	w.WriteUint32(hostID)
	w.WriteByte(byte(reason))
	w.EndMessage()
	return w.Take()
}

func alterGameMessage(code protocol.GameCode, privacy Privacy) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootAlterGame))
	w.WriteInt32(int32(code))
	w.WriteByte(alterGamePrivacy)
	w.WriteBool(privacy == PrivacyPublic)
	w.EndMessage()
	return w.Take()
}

// alterGamePrivacy is the only AlterGame flag the client defines.
const alterGamePrivacy byte = 1

func waitForHostMessage(code protocol.GameCode, clientID uint32) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootWaitForHost))
	w.WriteInt32(int32(code))
	w.WriteUint32(clientID)
	w.EndMessage()
	return w.Take()
}

func startGameMessage(code protocol.GameCode) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootStartGame))
	w.WriteInt32(int32(code))
	w.EndMessage()
	return w.Take()
}

func endGameMessage(code protocol.GameCode, reason GameOverReason) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootEndGame))
	w.WriteInt32(int32(code))
	w.WriteByte(byte(reason))
	w.WriteBool(false) // show ad
	w.EndMessage()
	return w.Take()
}

func kickPlayerMessage(code protocol.GameCode, target uint32, ban bool) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootKickPlayer))
	w.WriteInt32(int32(code))
	w.WritePackedUint32(target)
	w.WriteBool(ban)
	w.EndMessage()
	return w.Take()
}

// gameDataMessage wraps framed game-data messages in a GameData root.
func gameDataMessage(code protocol.GameCode, inner [][]byte) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootGameData))
	w.WriteInt32(int32(code))
	for _, m := range inner {
		w.WriteBytes(m)
	}
	w.EndMessage()
	return w.Take()
}

// gameDataToMessage wraps framed game-data messages in a targeted
// GameDataTo root.
func gameDataToMessage(code protocol.GameCode, target uint32, inner [][]byte) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.RootGameDataTo))
	w.WriteInt32(int32(code))
	w.WritePackedUint32(target)
	for _, m := range inner {
		w.WriteBytes(m)
	}
	w.EndMessage()
	return w.Take()
}

// sceneChangeMessage is the inner game-data message announcing a client
// moved scenes.
func sceneChangeMessage(clientID uint32, scene string) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.GameDataSceneChange))
	w.WritePackedUint32(clientID)
	w.WriteString(scene)
	w.EndMessage()
	return w.Take()
}

// rpcMessage frames one RPC as an inner game-data message.
func rpcMessage(netID uint32, tag protocol.RPCTag, body func(*protocol.Writer)) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.BeginMessage(byte(protocol.GameDataRPC))
	w.WritePackedUint32(netID)
	w.WriteByte(byte(tag))
	if body != nil {
		body(w)
	}
	w.EndMessage()
	return w.Take()
}
