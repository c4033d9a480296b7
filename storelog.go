package chord

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// VNodeLog is the append-only file backing the local vnode store. Each
// record is a fixed 20-byte id followed by a length-prefixed value; the
// store is reconstructed on startup by replaying the log front to back,
// so later records for the same id win. Entries migrated away are not
// compacted out; a stale reload is re-migrated by the next successor
// sync.
type VNodeLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenVNodeLog opens (creating if needed) the log at path.
func OpenVNodeLog(path string) (*VNodeLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open vnode log %s", path)
	}
	return &VNodeLog{f: f}, nil
}

// ReadAll replays the log into a map. A trailing partial record (e.g.
// after a crash mid-append) is dropped rather than treated as corruption.
func (l *VNodeLog) ReadAll() (map[Did][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek vnode log")
	}
	out := make(map[Did][]byte)
	r := bufio.NewReader(l.f)
	for {
		var idBuf [idBytes]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			break
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			break
		}
		v := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(r, v); err != nil {
			break
		}
		out[Did(idBuf)] = v
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return nil, errors.Wrap(err, "seek vnode log end")
	}
	return out, nil
}

// Append writes one id/value record and syncs it to disk.
func (l *VNodeLog) Append(id Did, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	if _, err := l.f.Write(id[:]); err != nil {
		return errors.Wrap(err, "append vnode id")
	}
	if _, err := l.f.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "append vnode length")
	}
	if _, err := l.f.Write(value); err != nil {
		return errors.Wrap(err, "append vnode value")
	}
	return errors.Wrap(l.f.Sync(), "sync vnode log")
}

// Close releases the underlying file.
func (l *VNodeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
