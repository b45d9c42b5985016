package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Stream modes
// --------------------------------------------------------------------------

// Mode is the direction a stream is opened in. The values match the
// sdsioModeRead / sdsioModeWrite constants of the device side API.
type Mode uint8

const (
	ModeRead  Mode = 0
	ModeWrite Mode = 1
)

// String returns the string representation of a Mode
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the defined modes
func (m Mode) Valid() bool {
	return m == ModeRead || m == ModeWrite
}

// --------------------------------------------------------------------------
// Control Message Structure
// --------------------------------------------------------------------------

// Control is the payload of a control frame. Which fields are used depends
// on the kind of the message.
type Control struct {
	// Kind of control message
	Kind ControlKind `json:"kind"`

	// Token correlates an open request with its ack
	Token uint32 `json:"token,omitempty"` // Used for: Open, Ack

	Name string `json:"name,omitempty"` // Used for: Open
	Mode Mode   `json:"mode"`           // Used for: Open, Ack

	// StreamID is assigned by the server
	StreamID uint32 `json:"stream_id,omitempty"` // Used for: Ack

	Status Status `json:"status,omitempty"` // Used for: Ack, Reset
	Credit uint32 `json:"credit,omitempty"` // Used for: Credit
	Reason string `json:"reason,omitempty"` // Used for: Ack (on failure), Reset
}

// --------------------------------------------------------------------------
// Control Message Factory Functions
// --------------------------------------------------------------------------

// NewOpenRequest creates a new Open request
func NewOpenRequest(token uint32, name string, mode Mode) *Control {
	return &Control{
		Kind:  CtlOpen,
		Token: token,
		Name:  name,
		Mode:  mode,
	}
}

// NewAck creates the response to an Open request
func NewAck(token uint32, streamID uint32, mode Mode, status Status, reason string) *Control {
	return &Control{
		Kind:     CtlAck,
		Token:    token,
		Mode:     mode,
		StreamID: streamID,
		Status:   status,
		Reason:   reason,
	}
}

// NewClose creates a close notification for a read stream
func NewClose() *Control {
	return &Control{Kind: CtlClose}
}

// NewCredit grants the peer permission to send n more payload bytes
func NewCredit(n uint32) *Control {
	return &Control{
		Kind:   CtlCredit,
		Credit: n,
	}
}

// NewReset aborts a stream
func NewReset(status Status, reason string) *Control {
	return &Control{
		Kind:   CtlReset,
		Status: status,
		Reason: reason,
	}
}

// --------------------------------------------------------------------------
// Control Kind Definition
// --------------------------------------------------------------------------

// ControlKind defines the type of a control message
type ControlKind uint8

const (
	CtlUnknown ControlKind = iota
	CtlOpen                // Request to open a stream
	CtlAck                 // Response to an open request
	CtlClose               // Reader closes a stream
	CtlCredit              // Reader grants flow control credit
	CtlReset               // Stream aborted by the peer
)

// String returns the string representation of a ControlKind
func (k ControlKind) String() string {
	switch k {
	case CtlOpen:
		return "open"
	case CtlAck:
		return "ack"
	case CtlClose:
		return "close"
	case CtlCredit:
		return "credit"
	case CtlReset:
		return "reset"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for ControlKind.
func (k ControlKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ControlKind.
func (k *ControlKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "open":
		*k = CtlOpen
	case "ack":
		*k = CtlAck
	case "close":
		*k = CtlClose
	case "credit":
		*k = CtlCredit
	case "reset":
		*k = CtlReset
	case "unknown":
		*k = CtlUnknown
	default:
		return fmt.Errorf("unknown control kind: %s", s)
	}
	return nil
}

// --------------------------------------------------------------------------
// Status codes carried in Ack and Reset messages
// --------------------------------------------------------------------------

// Status is the outcome of a server side stream operation
type Status uint8

const (
	StatusOK          Status = iota
	StatusInvalidName        // the stream name contains reserved characters
	StatusNotFound           // no recording to play back
	StatusBusy               // the (name, mode) pair is already open
	StatusIOError            // the server could not access its storage
	StatusProtocol           // malformed or out of sequence frame
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidName:
		return "invalid name"
	case StatusNotFound:
		return "not found"
	case StatusBusy:
		return "busy"
	case StatusIOError:
		return "io error"
	case StatusProtocol:
		return "protocol error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}
