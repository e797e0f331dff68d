package api

import (
	"errors"

	"github.com/goccy/go-json"
)

const (
	PurposeCommandRequest  = "commandRequest"
	PurposeCommandResponse = "commandResponse"
	PurposeEvent           = "event"

	ProtocolVersion = 1
)

// Bridge commands.
const (
	CmdLocalPlayerName = "getlocalplayername"
	CmdQueryTarget     = "/querytarget @s"
	CmdWhisper         = "/w @s "
)

type (
	Header struct {
		RequestId      string `json:"requestId"`
		MessagePurpose string `json:"messagePurpose"`
		EventName      string `json:"eventName,omitempty"`
		Version        int    `json:"version"`
	}
	BridgeOut struct {
		Header Header `json:"header"`
		Body   any    `json:"body"`
	}
	CommandBody struct {
		CommandLine string `json:"commandLine"`
		Version     int    `json:"version"`
		Origin      struct {
			Type string `json:"type"`
		} `json:"origin"`
	}
)

func NewCommand(requestId, line string) BridgeOut {
	body := CommandBody{CommandLine: line, Version: ProtocolVersion}
	body.Origin.Type = "player"
	return BridgeOut{
		Header: Header{RequestId: requestId, MessagePurpose: PurposeCommandRequest, Version: ProtocolVersion},
		Body:   body,
	}
}

type LocalPlayerNameResponse struct {
	LocalPlayerName string `json:"localplayername"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// QueryTarget is an entry of the querytarget command details.
type QueryTarget struct {
	Dimension int     `json:"dimension"`
	Position  *Vec3   `json:"position"`
	YRot      float64 `json:"yRot"`
}

var ErrNoTarget = errors.New("no target")

// ParseQueryTarget extracts the first target from a querytarget response body.
// The body keeps its result as a JSON-encoded string in the details field.
func ParseQueryTarget(body []byte) (*QueryTarget, error) {
	var rs struct {
		Details *string `json:"details"`
	}
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, err
	}
	if rs.Details == nil {
		return nil, ErrNoTarget
	}
	var targets []QueryTarget
	if err := json.Unmarshal([]byte(*rs.Details), &targets); err != nil {
		return nil, err
	}
	if len(targets) == 0 || targets[0].Position == nil {
		return nil, ErrNoTarget
	}
	return &targets[0], nil
}
