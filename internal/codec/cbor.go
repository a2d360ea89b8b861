// Package codec encodes the binary blobs facegate persists: face
// embeddings and enrollment profiles. Encoding is CBOR with Core
// Deterministic options, so equal values always produce equal bytes.
package codec

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrNonFinite is returned when an embedding carries NaN or ±Inf.
var ErrNonFinite = errors.New("embedding contains non-finite component")

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeEmbedding encodes a face embedding. Floats are written in the
// shortest lossless width, so decoding yields the exact input values.
func EncodeEmbedding(v []float64) ([]byte, error) {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("component %d: %w", i, ErrNonFinite)
		}
	}
	return encMode.Marshal(v)
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float64, error) {
	var v []float64
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}

// EncodeProfile encodes an opaque enrollment profile. A nil or empty
// profile encodes to nil.
func EncodeProfile(p map[string]string) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return encMode.Marshal(p)
}

// DecodeProfile is the inverse of EncodeProfile.
func DecodeProfile(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p map[string]string
	if err := decMode.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}
