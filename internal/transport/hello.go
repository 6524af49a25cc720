package transport

import (
	"fmt"

	"github.com/skeldware/dropship/internal/protocol"
)

// Hello is the decoded payload of a handshake packet. Clients have grown
// the payload over the years, so everything after Username is optional;
// absent fields keep their zero value (Language defaults to English).
type Hello struct {
	HazelVersion  byte
	ClientVersion int32
	Username      string
	Language      protocol.Language
	ChatMode      byte
	Platform      protocol.Platform
	PlatformName  string
	// Token is a trailing credential string appended by modded clients.
	// Empty when the client sent none.
	Token string
}

func parseHello(r *protocol.Reader) (Hello, error) {
	var h Hello
	var err error
	if h.HazelVersion, err = r.ReadByte(); err != nil {
		return h, fmt.Errorf("reading hazel version: %w", err)
	}
	if h.ClientVersion, err = r.ReadInt32(); err != nil {
		return h, fmt.Errorf("reading client version: %w", err)
	}
	if h.Username, err = r.ReadString(); err != nil {
		return h, fmt.Errorf("reading username: %w", err)
	}
	h.Language = protocol.LanguageEnglish
	if r.Remaining() == 0 {
		return h, nil
	}
	// The auth nonce only matters on the DTLS port, skip it.
	if _, err = r.ReadUint32(); err != nil {
		return h, fmt.Errorf("reading auth nonce: %w", err)
	}
	if r.Remaining() == 0 {
		return h, nil
	}
	lang, err := r.ReadUint32()
	if err != nil {
		return h, fmt.Errorf("reading language: %w", err)
	}
	h.Language = protocol.Language(lang)
	if r.Remaining() == 0 {
		return h, nil
	}
	if h.ChatMode, err = r.ReadByte(); err != nil {
		return h, fmt.Errorf("reading chat mode: %w", err)
	}
	if r.Remaining() == 0 {
		return h, nil
	}
	tag, body, err := r.ReadMessage()
	if err != nil {
		return h, fmt.Errorf("reading platform data: %w", err)
	}
	h.Platform = protocol.Platform(tag)
	if body.Remaining() > 0 {
		if h.PlatformName, err = body.ReadString(); err != nil {
			return h, fmt.Errorf("reading platform name: %w", err)
		}
	}
	if r.Remaining() == 0 {
		return h, nil
	}
	if h.Token, err = r.ReadString(); err != nil {
		return h, fmt.Errorf("reading token: %w", err)
	}
	return h, nil
}
