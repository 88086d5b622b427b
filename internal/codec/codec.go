// Package codec encodes protocol messages for the wire. JSON frames are sent
// as websocket text messages and CBOR frames as binary messages.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec marshals values into frames of a single websocket message type.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// FrameType is websocket.TextMessage or websocket.BinaryMessage.
	FrameType() int
}

// Names accepted by ByName.
const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameCBOR:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSON is the default codec.
type JSON struct{}

func (JSON) Name() string                       { return NameJSON }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) FrameType() int                     { return websocket.TextMessage }

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Payloads decode into map[string]any, the same shape encoding/json
	// produces, so consumers never see map[any]any.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR uses Core Deterministic Encoding; struct fields fall back to their
// json tags.
type CBOR struct{}

func (CBOR) Name() string                       { return NameCBOR }
func (CBOR) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBOR) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }
func (CBOR) FrameType() int                     { return websocket.BinaryMessage }
