package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrEndOfStream is returned by Decode when the peer closed the stream
	// before a whole frame arrived.
	ErrEndOfStream = errors.New("protocol: end of stream")

	// ErrFraming matches every *FramingError.
	ErrFraming = errors.New("protocol: framing error")
)

// FramingError reports a frame that cannot be encoded or a header that
// cannot be parsed. The stream is unusable after a decode-side FramingError.
type FramingError struct {
	Header string
	Reason string
}

func (e *FramingError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("protocol: bad frame header %q: %s", e.Header, e.Reason)
	}
	return "protocol: " + e.Reason
}

// Is makes errors.Is(err, ErrFraming) true.
func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}

// FrameCodec encodes and decodes length-prefixed frames with a fixed header
// width. It holds no state between calls.
type FrameCodec struct {
	Width int
	// MaxPayload caps the payload length in both directions. Zero means
	// MaxPayloadSize.
	MaxPayload int
}

// DefaultCodec uses the protocol header width.
var DefaultCodec = FrameCodec{Width: HeaderWidth}

func (c FrameCodec) maxPayload() int {
	if c.MaxPayload > 0 {
		return c.MaxPayload
	}
	return MaxPayloadSize
}

// Encode returns header || payload. It fails without producing any output
// when the payload exceeds the cap or its length does not fit the header,
// so every encoded frame decodes.
func (c FrameCodec) Encode(payload []byte) ([]byte, error) {
	if limit := c.maxPayload(); len(payload) > limit {
		return nil, &FramingError{
			Reason: fmt.Sprintf("payload of %d bytes exceeds maximum %d", len(payload), limit),
		}
	}
	length := strconv.Itoa(len(payload))
	if len(length) > c.Width {
		return nil, &FramingError{
			Reason: fmt.Sprintf("payload of %d bytes does not fit a %d-byte header", len(payload), c.Width),
		}
	}

	frame := make([]byte, c.Width+len(payload))
	n := copy(frame, length)
	for i := n; i < c.Width; i++ {
		frame[i] = ' '
	}
	copy(frame[c.Width:], payload)
	return frame, nil
}

// Decode reads exactly one frame from r. Short reads are retried until the
// declared length has arrived.
func (c FrameCodec) Decode(r io.Reader) ([]byte, error) {
	header := make([]byte, c.Width)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, readError(err, "header")
	}

	raw := string(header)
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &FramingError{Header: raw, Reason: "empty length"}
	}

	length, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return nil, &FramingError{Header: raw, Reason: "length is not a decimal number"}
	}
	if limit := c.maxPayload(); length > uint64(limit) {
		return nil, &FramingError{
			Header: raw,
			Reason: fmt.Sprintf("declared length %d exceeds maximum %d", length, limit),
		}
	}

	payload := make([]byte, length)
	if length == 0 {
		return payload, nil
	}
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readError(err, "payload")
	}
	return payload, nil
}

func readError(err error, part string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w (during %s)", ErrEndOfStream, part)
	}
	return fmt.Errorf("failed to read frame %s: %w", part, err)
}

// WriteFrame encodes payload with DefaultCodec and writes it with a single
// Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := DefaultCodec.Encode(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame decodes one frame with DefaultCodec.
func ReadFrame(r io.Reader) ([]byte, error) {
	return DefaultCodec.Decode(r)
}
