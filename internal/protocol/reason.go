package protocol

import "fmt"

// DisconnectReason is carried by Disconnect packets and RemovePlayer
// messages. Numeric values are part of the client contract and must not
// be renumbered.
type DisconnectReason byte

const (
	ReasonExitGame            DisconnectReason = 0
	ReasonGameFull            DisconnectReason = 1
	ReasonGameStarted         DisconnectReason = 2
	ReasonGameNotFound        DisconnectReason = 3
	ReasonIncorrectVersion    DisconnectReason = 5
	ReasonBanned              DisconnectReason = 6
	ReasonKicked              DisconnectReason = 7
	ReasonCustom              DisconnectReason = 8
	ReasonInvalidName         DisconnectReason = 9
	ReasonHacking             DisconnectReason = 10
	ReasonNotAuthorized       DisconnectReason = 11
	ReasonDestroy             DisconnectReason = 16
	ReasonError               DisconnectReason = 17
	ReasonIncorrectGame       DisconnectReason = 18
	ReasonServerRequest       DisconnectReason = 19
	ReasonServerFull          DisconnectReason = 20
	ReasonFocusLostBackground DisconnectReason = 207
	ReasonIntentionalLeaving  DisconnectReason = 208
	ReasonFocusLost           DisconnectReason = 209
	ReasonNewConnection       DisconnectReason = 210
)

var reasonNames = map[DisconnectReason]string{
	ReasonExitGame:            "ExitGame",
	ReasonGameFull:            "GameFull",
	ReasonGameStarted:         "GameStarted",
	ReasonGameNotFound:        "GameNotFound",
	ReasonIncorrectVersion:    "IncorrectVersion",
	ReasonBanned:              "Banned",
	ReasonKicked:              "Kicked",
	ReasonCustom:              "Custom",
	ReasonInvalidName:         "InvalidName",
	ReasonHacking:             "Hacking",
	ReasonNotAuthorized:       "NotAuthorized",
	ReasonDestroy:             "Destroy",
	ReasonError:               "Error",
	ReasonIncorrectGame:       "IncorrectGame",
	ReasonServerRequest:       "ServerRequest",
	ReasonServerFull:          "ServerFull",
	ReasonFocusLostBackground: "FocusLostBackground",
	ReasonIntentionalLeaving:  "IntentionalLeaving",
	ReasonFocusLost:           "FocusLost",
	ReasonNewConnection:       "NewConnection",
}

func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Reason(%d)", byte(r))
}
