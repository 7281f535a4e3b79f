package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeEnvelope reads one envelope from r. Unknown fields are rejected.
// Every failure is an InvalidArguments *Error.
func DecodeEnvelope(r io.Reader) (*Envelope, error) {
	var env Envelope

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&env); err != nil {
		return nil, Errorf(KindInvalidArguments, "failed to decode envelope: %v", err)
	}
	if err := env.Normalize(); err != nil {
		return &env, err
	}
	return &env, nil
}

// DecodeEnvelopeBytes is DecodeEnvelope over a byte slice.
func DecodeEnvelopeBytes(data []byte) (*Envelope, error) {
	return DecodeEnvelope(bytes.NewReader(data))
}

// RecoverID extracts the id from a payload that failed strict decoding so
// the failure can still be routed back to its caller. Returns "" if none.
func RecoverID(data []byte) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return ""
	}
	return partial.ID
}

// EncodeResult writes res as a single JSON line.
func EncodeResult(w io.Writer, res Result) error {
	if res.ID == "" {
		return fmt.Errorf("result missing required field: id")
	}
	if !res.OK && res.Error == nil {
		return fmt.Errorf("result has ok=false but no error")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// DecodeResult reads a result written by EncodeResult.
func DecodeResult(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if res.ID == "" {
		return nil, fmt.Errorf("result missing required field: id")
	}
	if !res.OK && res.Error == nil {
		return nil, fmt.Errorf("result has ok=false but no error")
	}
	return &res, nil
}
