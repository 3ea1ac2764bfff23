package rojo

import (
	"encoding/json"

	"github.com/slighter12/rojo-bridge-go/reflection"
)

// Info is the server description returned by GET /api/rojo.
type Info struct {
	SessionID        string  `json:"sessionId"`
	ServerVersion    string  `json:"serverVersion"`
	ProtocolVersion  int     `json:"protocolVersion"`
	RootInstanceID   string  `json:"rootInstanceId"`
	ExpectedPlaceIDs []int64 `json:"expectedPlaceIds,omitempty"`
}

// Instance is a transient copy of one node of the remote tree. Properties
// holds only the values the server reports, not the resolved set.
type Instance struct {
	ID         string                              `json:"Id"`
	Parent     string                              `json:"Parent,omitempty"`
	Name       string                              `json:"Name"`
	ClassName  string                              `json:"ClassName"`
	Properties map[string]reflection.PropertyValue `json:"Properties"`
	Children   []string                            `json:"Children"`
	Metadata   map[string]any                      `json:"Metadata,omitempty"`

	// Unsupported names properties the server sent with a type tag that has
	// no known payload shape. They are left out of Properties.
	Unsupported []string `json:"-"`
}

func (i *Instance) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID         string                     `json:"Id"`
		Parent     string                     `json:"Parent"`
		Name       string                     `json:"Name"`
		ClassName  string                     `json:"ClassName"`
		Properties map[string]json.RawMessage `json:"Properties"`
		Children   []string                   `json:"Children"`
		Metadata   map[string]any             `json:"Metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	props, skipped := reflection.DecodeProperties(wire.Properties)
	*i = Instance{
		ID:          wire.ID,
		Parent:      wire.Parent,
		Name:        wire.Name,
		ClassName:   wire.ClassName,
		Properties:  props,
		Children:    wire.Children,
		Metadata:    wire.Metadata,
		Unsupported: skipped,
	}
	return nil
}

// Response is the common envelope of read, write, open and subscribe replies.
// Instances is nil when the server sent no instance map at all.
type Response struct {
	SessionID     string              `json:"sessionId"`
	MessageCursor *int64              `json:"messageCursor,omitempty"`
	Instances     map[string]Instance `json:"instances,omitempty"`
}

// Update is delivered to listeners after every completed subscribe poll.
// Err is set when the poll failed; the loop has stopped in that case.
type Update struct {
	Cursor int64
	Err    error
}
