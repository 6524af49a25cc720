package protocol

import "fmt"

// PacketKind is the first byte of every datagram.
type PacketKind byte

const (
	PacketUnreliable PacketKind = 0
	PacketReliable   PacketKind = 1
	PacketHello      PacketKind = 8
	PacketDisconnect PacketKind = 9
	PacketAck        PacketKind = 10
	PacketFragment   PacketKind = 11 // recognized, never accepted
	PacketPing       PacketKind = 12
)

func (k PacketKind) String() string {
	switch k {
	case PacketUnreliable:
		return "unreliable"
	case PacketReliable:
		return "reliable"
	case PacketHello:
		return "hello"
	case PacketDisconnect:
		return "disconnect"
	case PacketAck:
		return "ack"
	case PacketFragment:
		return "fragment"
	case PacketPing:
		return "ping"
	default:
		return fmt.Sprintf("packet(0x%02X)", byte(k))
	}
}

// RootTag identifies a root message inside a reliable or unreliable packet.
type RootTag byte

const (
	RootHostGame      RootTag = 0
	RootJoinGame      RootTag = 1
	RootStartGame     RootTag = 2
	RootRemoveGame    RootTag = 3
	RootRemovePlayer  RootTag = 4
	RootGameData      RootTag = 5
	RootGameDataTo    RootTag = 6
	RootJoinedGame    RootTag = 7
	RootEndGame       RootTag = 8
	RootAlterGame     RootTag = 10
	RootKickPlayer    RootTag = 11
	RootWaitForHost   RootTag = 12
	RootRedirect      RootTag = 13
	RootGetGameListV2 RootTag = 16
)

func (t RootTag) String() string {
	switch t {
	case RootHostGame:
		return "HostGame"
	case RootJoinGame:
		return "JoinGame"
	case RootStartGame:
		return "StartGame"
	case RootRemoveGame:
		return "RemoveGame"
	case RootRemovePlayer:
		return "RemovePlayer"
	case RootGameData:
		return "GameData"
	case RootGameDataTo:
		return "GameDataTo"
	case RootJoinedGame:
		return "JoinedGame"
	case RootEndGame:
		return "EndGame"
	case RootAlterGame:
		return "AlterGame"
	case RootKickPlayer:
		return "KickPlayer"
	case RootWaitForHost:
		return "WaitForHost"
	case RootRedirect:
		return "Redirect"
	case RootGetGameListV2:
		return "GetGameListV2"
	default:
		return fmt.Sprintf("Root(0x%02X)", byte(t))
	}
}

// GameDataTag identifies a message nested inside GameData / GameDataTo.
type GameDataTag byte

const (
	GameDataData           GameDataTag = 1
	GameDataRPC            GameDataTag = 2
	GameDataSpawn          GameDataTag = 4
	GameDataDespawn        GameDataTag = 5
	GameDataSceneChange    GameDataTag = 6
	GameDataReady          GameDataTag = 7
	GameDataChangeSettings GameDataTag = 8
)

func (t GameDataTag) String() string {
	switch t {
	case GameDataData:
		return "Data"
	case GameDataRPC:
		return "RPC"
	case GameDataSpawn:
		return "Spawn"
	case GameDataDespawn:
		return "Despawn"
	case GameDataSceneChange:
		return "SceneChange"
	case GameDataReady:
		return "Ready"
	case GameDataChangeSettings:
		return "ChangeSettings"
	default:
		return fmt.Sprintf("GameData(0x%02X)", byte(t))
	}
}

// SpawnType identifies a prefab template.
type SpawnType uint32

const (
	SpawnSkeldShipStatus SpawnType = 0
	SpawnMeetingHud      SpawnType = 1
	SpawnLobbyBehaviour  SpawnType = 2
	SpawnGameData        SpawnType = 3
	SpawnPlayer          SpawnType = 4
	SpawnMiraShipStatus  SpawnType = 5
	SpawnPolusShipStatus SpawnType = 6
	SpawnAprilShipStatus SpawnType = 7
	SpawnAirshipStatus   SpawnType = 8
)

func (t SpawnType) String() string {
	switch t {
	case SpawnSkeldShipStatus:
		return "SkeldShipStatus"
	case SpawnMeetingHud:
		return "MeetingHud"
	case SpawnLobbyBehaviour:
		return "LobbyBehaviour"
	case SpawnGameData:
		return "GameData"
	case SpawnPlayer:
		return "Player"
	case SpawnMiraShipStatus:
		return "MiraShipStatus"
	case SpawnPolusShipStatus:
		return "PolusShipStatus"
	case SpawnAprilShipStatus:
		return "AprilShipStatus"
	case SpawnAirshipStatus:
		return "AirshipStatus"
	default:
		return fmt.Sprintf("Spawn(%d)", uint32(t))
	}
}

// RPCTag identifies a remote procedure call on a networked component.
type RPCTag byte

const (
	RPCPlayAnimation    RPCTag = 0
	RPCCompleteTask     RPCTag = 1
	RPCSyncSettings     RPCTag = 2
	RPCSetInfected      RPCTag = 3
	RPCExiled           RPCTag = 4
	RPCCheckName        RPCTag = 5
	RPCSetName          RPCTag = 6
	RPCCheckColor       RPCTag = 7
	RPCSetColor         RPCTag = 8
	RPCSetHat           RPCTag = 9
	RPCSetSkin          RPCTag = 10
	RPCReportDeadBody   RPCTag = 11
	RPCMurderPlayer     RPCTag = 12
	RPCSendChat         RPCTag = 13
	RPCStartMeeting     RPCTag = 14
	RPCSetScanner       RPCTag = 15
	RPCSendChatNote     RPCTag = 16
	RPCSetPet           RPCTag = 17
	RPCSetStartCounter  RPCTag = 18
	RPCEnterVent        RPCTag = 19
	RPCExitVent         RPCTag = 20
	RPCSnapTo           RPCTag = 21
	RPCClose            RPCTag = 22
	RPCVotingComplete   RPCTag = 23
	RPCCastVote         RPCTag = 24
	RPCClearVote        RPCTag = 25
	RPCAddVote          RPCTag = 26
	RPCCloseDoorsOfType RPCTag = 27
	RPCRepairSystem     RPCTag = 28
	RPCSetTasks         RPCTag = 29
	RPCUpdateGameData   RPCTag = 30
	RPCClimbLadder      RPCTag = 31
	RPCUsePlatform      RPCTag = 32
	RPCBootFromVent     RPCTag = 34
)

var rpcNames = map[RPCTag]string{
	RPCPlayAnimation:    "PlayAnimation",
	RPCCompleteTask:     "CompleteTask",
	RPCSyncSettings:     "SyncSettings",
	RPCSetInfected:      "SetInfected",
	RPCExiled:           "Exiled",
	RPCCheckName:        "CheckName",
	RPCSetName:          "SetName",
	RPCCheckColor:       "CheckColor",
	RPCSetColor:         "SetColor",
	RPCSetHat:           "SetHat",
	RPCSetSkin:          "SetSkin",
	RPCReportDeadBody:   "ReportDeadBody",
	RPCMurderPlayer:     "MurderPlayer",
	RPCSendChat:         "SendChat",
	RPCStartMeeting:     "StartMeeting",
	RPCSetScanner:       "SetScanner",
	RPCSendChatNote:     "SendChatNote",
	RPCSetPet:           "SetPet",
	RPCSetStartCounter:  "SetStartCounter",
	RPCEnterVent:        "EnterVent",
	RPCExitVent:         "ExitVent",
	RPCSnapTo:           "SnapTo",
	RPCClose:            "Close",
	RPCVotingComplete:   "VotingComplete",
	RPCCastVote:         "CastVote",
	RPCClearVote:        "ClearVote",
	RPCAddVote:          "AddVote",
	RPCCloseDoorsOfType: "CloseDoorsOfType",
	RPCRepairSystem:     "RepairSystem",
	RPCSetTasks:         "SetTasks",
	RPCUpdateGameData:   "UpdateGameData",
	RPCClimbLadder:      "ClimbLadder",
	RPCUsePlatform:      "UsePlatform",
	RPCBootFromVent:     "BootFromVent",
}

func (t RPCTag) String() string {
	if name, ok := rpcNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RPC(0x%02X)", byte(t))
}

// Special client ids used in host-view updates and GameDataTo targets.
// The wire carries client ids as packed u32, so the sentinels sit at the
// top of the positive int32 range.
const (
	ClientIDNil    uint32 = 1<<31 - 1
	ClientIDServer uint32 = 1<<31 - 2
	ClientIDTemp   uint32 = 1<<31 - 3
)

// MapID identifies the selected map in the game settings.
type MapID byte

const (
	MapTheSkeld        MapID = 0
	MapMiraHQ          MapID = 1
	MapPolus           MapID = 2
	MapAprilFoolsSkeld MapID = 3
	MapAirship         MapID = 4
)

func (m MapID) String() string {
	switch m {
	case MapTheSkeld:
		return "TheSkeld"
	case MapMiraHQ:
		return "MiraHQ"
	case MapPolus:
		return "Polus"
	case MapAprilFoolsSkeld:
		return "AprilFoolsSkeld"
	case MapAirship:
		return "Airship"
	default:
		return fmt.Sprintf("Map(%d)", byte(m))
	}
}

// ShipStatusSpawnType returns the prefab spawned for the given map.
func (m MapID) ShipStatusSpawnType() SpawnType {
	switch m {
	case MapMiraHQ:
		return SpawnMiraShipStatus
	case MapPolus:
		return SpawnPolusShipStatus
	case MapAprilFoolsSkeld:
		return SpawnAprilShipStatus
	case MapAirship:
		return SpawnAirshipStatus
	default:
		return SpawnSkeldShipStatus
	}
}

// Language reported by the client in the Hello payload.
type Language uint32

const (
	LanguageEnglish     Language = 0
	LanguagePortuguese  Language = 1
	LanguageKorean      Language = 4
	LanguageRussian     Language = 8
	LanguageDutch       Language = 16
	LanguageFilipino    Language = 32
	LanguageFrench      Language = 64
	LanguageGerman      Language = 128
	LanguageItalian     Language = 256
	LanguageJapanese    Language = 512
	LanguageSpanish     Language = 1024
	LanguageSimpChinese Language = 2048
	LanguageTradChinese Language = 4096
	LanguageIrish       Language = 8192
)

// Platform reported by the client in the Hello payload.
type Platform byte

const (
	PlatformUnknown         Platform = 0
	PlatformStandaloneEpic  Platform = 1
	PlatformStandaloneSteam Platform = 2
	PlatformStandaloneMac   Platform = 3
	PlatformStandaloneWin10 Platform = 4
	PlatformStandaloneItch  Platform = 5
	PlatformIPhone          Platform = 6
	PlatformAndroid         Platform = 7
	PlatformSwitch          Platform = 8
	PlatformXbox            Platform = 9
	PlatformPlaystation     Platform = 10
)

func (p Platform) String() string {
	switch p {
	case PlatformStandaloneEpic:
		return "Epic"
	case PlatformStandaloneSteam:
		return "Steam"
	case PlatformStandaloneMac:
		return "Mac"
	case PlatformStandaloneWin10:
		return "Win10"
	case PlatformStandaloneItch:
		return "Itch"
	case PlatformIPhone:
		return "iPhone"
	case PlatformAndroid:
		return "Android"
	case PlatformSwitch:
		return "Switch"
	case PlatformXbox:
		return "Xbox"
	case PlatformPlaystation:
		return "Playstation"
	default:
		return "Unknown"
	}
}
