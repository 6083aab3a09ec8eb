// Package wire defines the JSON framing spoken over the command/telemetry
// channel to the unit. Every frame is an Envelope carrying a kind tag and
// a kind-specific payload.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrolkit/engine/pkg/core"
)

// Envelope wraps all messages on the channel, both directions.
type Envelope struct {
	Kind    string          `json:"kind"`
	Time    time.Time       `json:"time,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeCommand frames an outbound command.
func EncodeCommand(cmd core.Command) ([]byte, error) {
	var payload any
	switch cmd.Kind {
	case core.CmdStart:
		payload = cmd.Start
	case core.CmdPause:
		payload = cmd.Pause
	case core.CmdGoHome:
		payload = cmd.GoHome
	case core.CmdUpdateTargets:
		payload = cmd.Targets
	case core.CmdNotify, core.CmdCaptureArchived:
		payload = cmd.Notify
	}

	env := Envelope{Kind: string(cmd.Kind), Time: cmd.Time}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", cmd.Kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodeEvent parses an inbound frame. Kinds outside the known set decode
// to EventUnknown with the wire tag preserved; a malformed frame or
// payload is an error.
func DecodeEvent(data []byte) (core.InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.InboundEvent{}, fmt.Errorf("decoding envelope: %w", err)
	}

	ev := core.InboundEvent{Kind: core.EventKind(env.Kind), Time: env.Time}

	switch ev.Kind {
	case core.EventTelemetry:
		ev.Telemetry = &core.Telemetry{}
		if err := json.Unmarshal(env.Payload, ev.Telemetry); err != nil {
			return core.InboundEvent{}, fmt.Errorf("decoding telemetry: %w", err)
		}
	case core.EventDetection:
		ev.Detection = &core.DetectionEvent{}
		if err := json.Unmarshal(env.Payload, ev.Detection); err != nil {
			return core.InboundEvent{}, fmt.Errorf("decoding detection: %w", err)
		}
	case core.EventWaypointReached:
		ev.Waypoint = &core.WaypointReached{}
		if err := json.Unmarshal(env.Payload, ev.Waypoint); err != nil {
			return core.InboundEvent{}, fmt.Errorf("decoding waypoint: %w", err)
		}
	case core.EventLapComplete:
		// no payload
	default:
		ev.RawKind = env.Kind
		ev.Kind = core.EventUnknown
	}
	return ev, nil
}
