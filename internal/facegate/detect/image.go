package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	// Decoders registered for image.Decode.
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeFrame decodes an encoded image into a Frame. Decode failures wrap
// ErrReadFailed.
func DecodeFrame(data []byte) (Frame, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decode image: %v", ErrReadFailed, err)
	}
	return Frame{Image: img, Encoded: data, Format: format}, nil
}

// encodedBytes returns the original bytes of f, or a PNG encoding of its
// image when the frame was built in memory.
func encodedBytes(f Frame) ([]byte, error) {
	if len(f.Encoded) > 0 {
		return f.Encoded, nil
	}
	if f.Image == nil {
		return nil, fmt.Errorf("%w: empty frame", ErrReadFailed)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
