package classify

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxWireFrame bounds a single worker message. A full-HD JPEG at high
// quality stays well under 2 MiB; anything bigger means the stream is
// corrupt.
const maxWireFrame = 16 << 20

// writeWireFrame writes one length-prefixed message: 4 bytes big-endian
// payload length followed by the payload. The prefix lets the peer find
// message boundaries in the pipe stream.
func writeWireFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readWireFrame reads one length-prefixed message. io.EOF surfaces
// unwrapped when the stream ends cleanly between messages.
func readWireFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxWireFrame {
		return nil, fmt.Errorf("wire frame of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
