package playback

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Direction is the navigation direction of a command.
type Direction string

const (
	// DirectionPrevious moves to the previous slide.
	DirectionPrevious Direction = "previous"

	// DirectionNext moves to the next slide.
	DirectionNext Direction = "next"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionPrevious || d == DirectionNext
}

const (
	// KindNavigate tags host to surface navigation commands.
	KindNavigate = "navigate"

	// KindHello tags the single surface to host message, sent once the
	// control script has found the slide engine.
	KindHello = "hello"
)

// Command is the host to surface message. It is fire and forget: the surface
// never answers.
type Command struct {
	Kind      string    `json:"kind"`
	Direction Direction `json:"direction"`
}

// Navigate returns the navigation command for dir.
func Navigate(dir Direction) Command {
	return Command{Kind: KindNavigate, Direction: dir}
}

// Validate checks the command against the schema.
func (c Command) Validate() error {
	if c.Kind != KindNavigate {
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("unknown direction %q", c.Direction)
	}

	return nil
}

// Encode returns the wire form of the command.
func (c Command) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return json.Marshal(c)
}

// DecodeCommand parses and validates a command. Unknown fields are
// rejected.
func DecodeCommand(raw []byte) (Command, error) {
	var cmd Command

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command: %w", err)
	}

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}

	return cmd, nil
}

// SurfaceMessage is a message from the surface to the host.
type SurfaceMessage struct {
	Kind string `json:"kind"`
}

// DecodeSurfaceMessage parses a surface message. Anything but a hello is an
// error; the surface is untrusted and has nothing else to say.
func DecodeSurfaceMessage(raw []byte) (SurfaceMessage, error) {
	var msg SurfaceMessage

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return SurfaceMessage{}, fmt.Errorf("malformed surface "+
			"message: %w", err)
	}

	if msg.Kind != KindHello {
		return SurfaceMessage{}, fmt.Errorf("unexpected surface "+
			"message kind %q", msg.Kind)
	}

	return msg, nil
}
