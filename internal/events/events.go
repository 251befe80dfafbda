// Package events defines the messages a domain exchanges with the outside
// world: fall and state events going out, pause/resume commands coming in.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the event type on the wire.
type Type string

const (
	TypeFallStart Type = "fall_start"
	TypeState     Type = "state"
)

// Event is one outbound message. The JSON form is
// {"id","dom_id","type","timestamp","data":{"room_id",...}}.
type Event struct {
	ID        string    `json:"id"`
	DomainID  int       `json:"dom_id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Data is the event payload. From and To are only set on state events.
type Data struct {
	RoomID int    `json:"room_id"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

// NewFall returns a fall_start event for a room.
func NewFall(domainID, roomID int, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		DomainID:  domainID,
		Type:      TypeFallStart,
		Timestamp: at.UTC(),
		Data:      Data{RoomID: roomID},
	}
}

// NewState returns a state event for a room transition.
func NewState(domainID, roomID int, from, to string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		DomainID:  domainID,
		Type:      TypeState,
		Timestamp: at.UTC(),
		Data:      Data{RoomID: roomID, From: from, To: to},
	}
}

// Command types.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// ErrBadPayload is returned when a command payload cannot be decoded.
var ErrBadPayload = errors.New("events: bad command payload")

// Command is one inbound request. Payload is opaque to the transport and
// decoded by the handler registered for Type.
type Command struct {
	ID       string          `json:"id,omitempty"`
	DomainID int             `json:"dom_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	// ReplyTo names where a transport should send the reply, if anywhere.
	ReplyTo string `json:"reply_to,omitempty"`
}

// RoomPayload is the payload of pause and resume.
type RoomPayload struct {
	RoomID int `json:"room_id"`
}

// NewRoomCommand builds a pause or resume command.
func NewRoomCommand(domainID int, kind string, roomID int) Command {
	payload, _ := json.Marshal(RoomPayload{RoomID: roomID})
	return Command{ID: uuid.NewString(), DomainID: domainID, Type: kind, Payload: payload}
}

// RoomID decodes a RoomPayload.
func (c Command) RoomID() (int, error) {
	if len(c.Payload) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	var p RoomPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return p.RoomID, nil
}

// Reply answers a command.
type Reply struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ReplyTo builds the reply to cmd for the outcome err.
func ReplyTo(cmd Command, err error) Reply {
	r := Reply{ID: cmd.ID, OK: err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
