package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-scan-sensor/scan"
)

// DecodeMessage is the wire form of a decode event.
type DecodeMessage struct {
	InstanceID string    `json:"instance_id" msgpack:"instance_id"`
	SiteID     string    `json:"site_id,omitempty" msgpack:"site_id,omitempty"`
	TraceID    string    `json:"trace_id" msgpack:"trace_id"`
	At         time.Time `json:"at" msgpack:"at"`
	Format     string    `json:"format" msgpack:"format"`
	Text       string    `json:"text" msgpack:"text"`
	Raw        []byte    `json:"raw,omitempty" msgpack:"raw,omitempty"`
	Width      int       `json:"width" msgpack:"width"`
	Height     int       `json:"height" msgpack:"height"`
}

// MessageFromEvent builds the wire message for a scan decode event.
func MessageFromEvent(instanceID, siteID string, ev scan.DecodeEvent) DecodeMessage {
	return DecodeMessage{
		InstanceID: instanceID,
		SiteID:     siteID,
		TraceID:    ev.TraceID,
		At:         ev.At,
		Format:     string(ev.Result.Format),
		Text:       ev.Result.Text,
		Raw:        ev.Result.Raw,
		Width:      ev.Width,
		Height:     ev.Height,
	}
}

// Codec serializes wire messages. Chosen once at startup from config.
type Codec interface {
	Name() string
	Marshal(msg DecodeMessage) ([]byte, error)
}

// NewCodec returns the codec for a config codec name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("emitter: unknown codec '%s'", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg DecodeMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// msgpackCodec trades human readability for payload size, roughly half of
// the JSON encoding for typical decode messages. Useful on constrained
// broker links.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(msg DecodeMessage) ([]byte, error) {
	return msgpack.Marshal(msg)
}
