package object

import "github.com/skeldware/dropship/internal/protocol"

// SpawnFlagClientCharacter marks a spawn as a player character; clients
// attach the camera and input to it.
const SpawnFlagClientCharacter byte = 1

// prefab lists the ordered component constructors for a spawn type.
type prefab []func() Component

var prefabs = map[protocol.SpawnType]prefab{
	protocol.SpawnSkeldShipStatus: {newShipStatus},
	protocol.SpawnMeetingHud:      {newMeetingHud},
	protocol.SpawnLobbyBehaviour:  {newLobbyBehaviour},
	protocol.SpawnGameData:        {newGameData, newVoteBanSystem},
	protocol.SpawnPlayer:          {newPlayerControl, newPlayerPhysics, newNetworkTransform},
	protocol.SpawnMiraShipStatus:  {newShipStatus},
	protocol.SpawnPolusShipStatus: {newShipStatus},
	protocol.SpawnAprilShipStatus: {newShipStatus},
	protocol.SpawnAirshipStatus:   {newShipStatus},
}
