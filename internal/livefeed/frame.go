package livefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erauner12/productsync/internal/catalog"
)

// FrameType tags every message on the live channel
type FrameType string

const (
	// Server -> client record notifications
	FrameCreated FrameType = "created"
	FrameUpdated FrameType = "updated"
	FrameDeleted FrameType = "deleted"

	// Client -> server, first frame after connect
	FrameAuthorization FrameType = "authorization"
	// Server -> client, acknowledges authorization
	FrameWelcome FrameType = "welcome"
)

var (
	// ErrUnknownFrame is returned for frames with an unrecognised type
	ErrUnknownFrame = errors.New("unknown frame type")
	// ErrMalformedFrame is returned when a known frame lacks required fields
	ErrMalformedFrame = errors.New("malformed frame")
)

// Event is a record notification: the tagged Created/Updated/Deleted variant
type Event struct {
	Type    FrameType
	Product catalog.Product
}

// Frame is a decoded message of any type. Only the field matching Type is set.
type Frame struct {
	Type     FrameType
	Event    Event
	Token    string
	ClientID string
}

type wireFrame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type productPayload struct {
	Product *catalog.Product `json:"product"`
}

type authorizationPayload struct {
	Token string `json:"token"`
}

type welcomePayload struct {
	ClientID string `json:"clientId"`
}

func encode(t FrameType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireFrame{Type: t, Payload: raw})
}

// EncodeEvent renders {type, payload: {product}}
func EncodeEvent(ev Event) ([]byte, error) {
	if !ev.Type.isEvent() {
		return nil, fmt.Errorf("%w: %q is not an event", ErrUnknownFrame, ev.Type)
	}
	p := ev.Product
	return encode(ev.Type, productPayload{Product: &p})
}

// EncodeAuthorization renders the client's opening frame
func EncodeAuthorization(token string) ([]byte, error) {
	return encode(FrameAuthorization, authorizationPayload{Token: token})
}

// EncodeWelcome renders the server's reply to a successful authorization
func EncodeWelcome(clientID string) ([]byte, error) {
	return encode(FrameWelcome, welcomePayload{ClientID: clientID})
}

func (t FrameType) isEvent() bool {
	return t == FrameCreated || t == FrameUpdated || t == FrameDeleted
}

// Decode parses and validates a frame. Events must carry a product with an
// assigned id and a positive version; control frames must carry their field.
func Decode(data []byte) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case wf.Type.isEvent():
		var pp productPayload
		if err := json.Unmarshal(wf.Payload, &pp); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if pp.Product == nil {
			return Frame{}, fmt.Errorf("%w: %s without product", ErrMalformedFrame, wf.Type)
		}
		if !pp.Product.Assigned() || pp.Product.Version < 1 {
			return Frame{}, fmt.Errorf("%w: %s product needs id and version", ErrMalformedFrame, wf.Type)
		}
		return Frame{Type: wf.Type, Event: Event{Type: wf.Type, Product: *pp.Product}}, nil

	case wf.Type == FrameAuthorization:
		var ap authorizationPayload
		if err := json.Unmarshal(wf.Payload, &ap); err != nil || ap.Token == "" {
			return Frame{}, fmt.Errorf("%w: authorization without token", ErrMalformedFrame)
		}
		return Frame{Type: wf.Type, Token: ap.Token}, nil

	case wf.Type == FrameWelcome:
		var wp welcomePayload
		if err := json.Unmarshal(wf.Payload, &wp); err != nil || wp.ClientID == "" {
			return Frame{}, fmt.Errorf("%w: welcome without clientId", ErrMalformedFrame)
		}
		return Frame{Type: wf.Type, ClientID: wp.ClientID}, nil

	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, wf.Type)
	}
}
