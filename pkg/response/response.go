// Package response defines the structured form of a reasoning backend reply
// and the parser that produces it.
//
// A reply is a JSON object with up to two facets:
//
//	{
//	  "Message": {"message_1": "Let me look.", "message_2": "One moment."},
//	  "Action": {
//	    "look_for_bottle": {
//	      "skills":    {"camera_enable": {}, "object_detection": {"object": "bottle"}},
//	      "movements": {"head": {"move_joint": {"motor": "pan", "value": 30}}}
//	    }
//	  }
//	}
//
// Anything that cannot be decoded becomes the fallback Message.
package response

import "strings"

// FallbackText is spoken when the backend output cannot be understood.
const FallbackText = "Sorry, I didn't understand that."

// Kind identifies a skill. The set is closed; names the agent does not know
// map to KindUnrecognized.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindCameraEnable
	KindCameraDisable
	KindObjectDetection
)

var kindNames = map[Kind]string{
	KindUnrecognized:    "unrecognized",
	KindCameraEnable:    "camera_enable",
	KindCameraDisable:   "camera_disable",
	KindObjectDetection: "object_detection",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unrecognized"
}

// ParseKind maps a wire name to a Kind.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "camera_enable":
		return KindCameraEnable
	case "camera_disable":
		return KindCameraDisable
	case "object_detection":
		return KindObjectDetection
	default:
		return KindUnrecognized
	}
}

// Message is the spoken part of a response.
type Message struct {
	Text string
}

// Invocation is one skill call.
type Invocation struct {
	Kind   Kind
	Name   string // as sent by the backend
	Params map[string]any
}

// StringParam returns a string parameter or def when it is missing or empty.
func (i Invocation) StringParam(key, def string) string {
	if v, ok := i.Params[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// MovementCommand targets one joint. Group is used for logging only.
type MovementCommand struct {
	Group    string
	Motor    string
	Position float64
}

// ActionEntry is one named action with its skills and movements.
type ActionEntry struct {
	Name      string
	Skills    []Invocation
	Movements []MovementCommand
}

// Action holds entries in document order.
type Action struct {
	Entries []ActionEntry
}

// Response is a parsed reply. Either facet may be nil.
type Response struct {
	Message *Message
	Action  *Action

	// Fallback is set when the reply could not be understood.
	Fallback bool
}

// FallbackResponse returns the response used for unparsable output and
// backend failures.
func FallbackResponse() Response {
	return Response{Message: &Message{Text: FallbackText}, Fallback: true}
}

// Empty reports whether the response carries nothing to dispatch.
func (r Response) Empty() bool {
	return r.Message == nil && (r.Action == nil || len(r.Action.Entries) == 0)
}
