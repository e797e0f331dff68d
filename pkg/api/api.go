// Package api defines the wire formats of both peer kinds of the relay.
//
// Browser peers exchange JSON "messages" of the following structure:
//
//	type   - (required) one of the predefined message types;
//	server - (outbound only) the relay server info;
//	data   - (optional) message payload with arbitrary data.
//
// Example:
//
//	{"type":"updatePlayer","server":{"name":"MCBE Proximity Chat Server"},"data":{"id":"cfv68irdrc3ifu3jn6bg","pos":[1,64,-3],"dimension":0,"yRot":90}}
//
// The game client bridge (Minecraft Bedrock websocket protocol) uses frames with
// a header and a body, see Header.
package api

import (
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"
)

// Browser message types.
const (
	LoginRequest  = "loginRequest"
	LoginSuccess  = "loginSuccess"
	LoginFailed   = "loginFailed"
	Join          = "join"
	AddClient     = "addClient"
	SendSignal    = "sendSignal"
	ReceiveSignal = "receiveSignal"
	UpdatePlayer  = "updatePlayer"
)

type (
	Server struct {
		Name string `json:"name"`
	}
	Out struct {
		Type   string `json:"type"`
		Server Server `json:"server"`
		Data   any    `json:"data"`
	}
)

// Frame is an inbound message of any of the peer kinds.
// Only the fields of the kind's envelope are present.
type Frame struct {
	Type   string          `json:"type,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Header *Header         `json:"header,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// EventName returns the bridge event name of the frame if any.
func (f *Frame) EventName() string {
	if f.Header == nil {
		return ""
	}
	return f.Header.EventName
}

// RequestId returns the bridge request id of the frame if any.
func (f *Frame) RequestId() string {
	if f.Header == nil {
		return ""
	}
	return f.Header.RequestId
}

type (
	LoginRequestData struct {
		Password string `json:"password"`
		LinkCode string `json:"linkCode"`
	}
	LoginSuccessData struct {
		Name   string       `json:"name"`
		Id     string       `json:"id"`
		Config ClientConfig `json:"config"`
		Client PeerInfo     `json:"client"`
	}
	LoginFailedData struct {
		Reason string `json:"reason"`
	}
	ClientConfig struct {
		MaxDistance       float64            `json:"maxDistance"`
		SpectatorToPlayer bool               `json:"spectatorToPlayer"`
		IceServers        []webrtc.ICEServer `json:"iceServers"`
	}
	PeerInfo struct {
		Name       string `json:"name"`
		IsMCClient bool   `json:"isMCClient"`
		IsLinked   bool   `json:"isLinked"`
		Id         string `json:"id"`
	}
	AddClientData struct {
		Client PeerInfo `json:"client"`
	}
	SignalRequest struct {
		To         string          `json:"to"`
		SignalData json.RawMessage `json:"signalData"`
	}
	SignalData struct {
		Client     PeerInfo        `json:"client"`
		From       PeerInfo        `json:"from"`
		SignalData json.RawMessage `json:"signalData"`
	}
	UpdatePlayerData struct {
		Id        string     `json:"id"`
		Pos       [3]float64 `json:"pos"`
		Dimension int        `json:"dimension"`
		YRot      float64    `json:"yRot"`
	}
)

// Unwrap decodes some payload into a new value of T,
// returns nil on any error.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
