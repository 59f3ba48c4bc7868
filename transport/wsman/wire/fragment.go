package wire

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	flagStart = 0x1
	flagEnd   = 0x2

	fragHeaderLen = 8 + 8 + 1 + 4
	// DefaultMaxFragmentSize caps a single WSMan Send payload (spec §6's
	// Transport.Send), mirroring the MaxEnvelopeSize the wsman client
	// negotiates (153600 bytes) with room for SOAP/base64 overhead.
	DefaultMaxFragmentSize = 32 * 1024
)

// Fragmenter splits one encoded Message into wire fragments whose blobs are
// no larger than MaxSize (each fragment adds its 21-byte header), and numbers them under a monotonically increasing object id so a
// Defragmenter on the peer can tell which fragments belong together.
type Fragmenter struct {
	MaxSize int

	mu       sync.Mutex
	objectID uint64
}

func (f *Fragmenter) size() int {
	if f.MaxSize <= 0 {
		return DefaultMaxFragmentSize
	}
	return f.MaxSize
}

// Fragment splits data into one or more length-prefixed fragment blobs.
func (f *Fragmenter) Fragment(data []byte) [][]byte {
	f.mu.Lock()
	objectID := f.objectID
	f.objectID++
	f.mu.Unlock()

	max := f.size()
	if len(data) == 0 {
		data = []byte{}
	}

	var fragments [][]byte
	for offset, fragmentID := 0, uint64(0); offset < len(data) || (offset == 0 && len(data) == 0); fragmentID++ {
		end := offset + max
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		var flags byte
		if offset == 0 {
			flags |= flagStart
		}
		if end == len(data) {
			flags |= flagEnd
		}

		buf := make([]byte, fragHeaderLen+len(chunk))
		binary.BigEndian.PutUint64(buf[0:8], objectID)
		binary.BigEndian.PutUint64(buf[8:16], fragmentID)
		buf[16] = flags
		binary.BigEndian.PutUint32(buf[17:21], uint32(len(chunk)))
		copy(buf[21:], chunk)
		fragments = append(fragments, buf)

		offset = end
		if flags&flagEnd != 0 {
			break
		}
	}
	return fragments
}

// Defragmenter reassembles fragments produced by a peer Fragmenter, keyed by
// object id, and yields each object's bytes once its End fragment arrives.
type Defragmenter struct {
	mu      sync.Mutex
	pending map[uint64][]byte
}

// Push feeds one raw fragment. It returns the reassembled payload and true
// once the object carrying it is complete.
func (d *Defragmenter) Push(raw []byte) ([]byte, bool, error) {
	if len(raw) < fragHeaderLen {
		return nil, false, fmt.Errorf("wire: fragment too short: %d bytes", len(raw))
	}
	objectID := binary.BigEndian.Uint64(raw[0:8])
	flags := raw[16]
	blobLen := binary.BigEndian.Uint32(raw[17:21])
	if int(blobLen) != len(raw)-fragHeaderLen {
		return nil, false, fmt.Errorf("wire: fragment blob length mismatch: header says %d, got %d", blobLen, len(raw)-fragHeaderLen)
	}
	blob := raw[fragHeaderLen:]

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		d.pending = make(map[uint64][]byte)
	}
	if flags&flagStart != 0 {
		d.pending[objectID] = append([]byte(nil), blob...)
	} else {
		d.pending[objectID] = append(d.pending[objectID], blob...)
	}

	if flags&flagEnd != 0 {
		full := d.pending[objectID]
		delete(d.pending, objectID)
		return full, true, nil
	}
	return nil, false, nil
}
