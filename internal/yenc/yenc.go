// Package yenc decodes yEnc encoded article bodies.
package yenc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/javi11/nzbinspect/internal/errors"
	"github.com/mnightingale/rapidyenc"
)

var beginMarker = []byte("=ybegin ")

// Decode converts an article body, as read from the wire, into its binary payload.
//
// Lines before =ybegin are ignored. At most maxOutput bytes are produced; zero
// means no limit. A DecodeError is returned when nothing was decoded; a
// decoder error after some payload was produced is not reported.
func Decode(body []byte, maxOutput int) ([]byte, error) {
	start := beginOffset(body)
	if start < 0 {
		return nil, &errors.DecodeError{Reason: "no =ybegin marker"}
	}

	dec := rapidyenc.AcquireDecoder(bytes.NewReader(body[start:]))
	defer rapidyenc.ReleaseDecoder(dec)

	var r io.Reader = dec
	if maxOutput > 0 {
		r = io.LimitReader(dec, int64(maxOutput))
	}

	out, err := io.ReadAll(r)
	if len(out) == 0 {
		if err != nil {
			return nil, &errors.DecodeError{Reason: fmt.Sprintf("empty payload: %v", err)}
		}

		return nil, &errors.DecodeError{Reason: "empty payload"}
	}

	return out, nil
}

// beginOffset returns the offset of the first line starting with =ybegin, or -1.
func beginOffset(body []byte) int {
	for off := 0; off < len(body); {
		if bytes.HasPrefix(body[off:], beginMarker) {
			return off
		}
		i := bytes.IndexByte(body[off:], '\n')
		if i < 0 {
			return -1
		}
		off += i + 1
	}

	return -1
}
