// Package transport implements REQ_EP and PUB_EP, the two TCP
// endpoints of spec.md §4.1 and §6. It owns no broker state; it only
// decodes inbound JSON, hands it to an engine, and encodes the reply.
package transport

import (
	"bytes"
	"encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// jsonLib is a drop-in, faster encoding/json replacement used for the
// wire codec's hot path (every accepted connection decodes and
// encodes through it). It stays wire-compatible with json.RawMessage,
// which is what lets decode-then-validate-then-unmarshal work below.
var jsonLib = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonRawMessage is the type every connection first decodes a message
// into, so it can be schema-validated (in --debug mode) before being
// unmarshaled into the typed wire.InMessage.
type jsonRawMessage = json.RawMessage

// jsonschemaUnmarshal parses raw into the jsonschema-friendly value
// representation (distinguishing integers from floats) that
// Validator.ValidateReceived expects.
func jsonschemaUnmarshal(raw jsonRawMessage) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// decoder and encoder are the minimal surface transport needs; both
// satisfied by jsoniter's stream types, which (like encoding/json's)
// read/write successive JSON values from/to a connection without
// requiring explicit delimiters.
type decoder interface {
	Decode(v any) error
}

type encoder interface {
	Encode(v any) error
}

func newDecoder(r io.Reader) decoder { return jsonLib.NewDecoder(r) }
func newEncoder(w io.Writer) encoder { return jsonLib.NewEncoder(w) }
