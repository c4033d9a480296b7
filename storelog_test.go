package chord

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVNodeLogReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vnodes.log")

	l, err := OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(didFromUint(1), []byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(didFromUint(2), []byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// A later record for the same id wins on replay.
	if err := l.Append(didFromUint(1), []byte("a2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	l.Close()

	l, err = OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	values, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("replayed %d entries, want 2", len(values))
	}
	if string(values[didFromUint(1)]) != "a2" {
		t.Fatalf("id 1 = %q, want the later record", values[didFromUint(1)])
	}
	if string(values[didFromUint(2)]) != "b" {
		t.Fatalf("id 2 = %q", values[didFromUint(2)])
	}
}

func TestVNodeLogToleratesTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vnodes.log")

	l, err := OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(didFromUint(7), []byte("whole")); err != nil {
		t.Fatalf("append: %v", err)
	}
	l.Close()

	// Simulate a crash mid-append: a record header with no body.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	partial := didFromUint(9)
	if _, err := f.Write(partial[:]); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	l, err = OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	values, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(values) != 1 || string(values[didFromUint(7)]) != "whole" {
		t.Fatalf("replayed %v, want only the whole record", values)
	}
}

func TestRingPersistsThroughAttachedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vnodes.log")

	l, err := OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := NewRing(didFromUint(100))
	if err := r.AttachVNodeLog(l); err != nil {
		t.Fatalf("attach: %v", err)
	}
	r.Store().Put(didFromUint(150), []byte("kept"))
	r.Store().Merge(map[Did][]byte{didFromUint(160): []byte("merged")})
	l.Close()

	// A fresh ring replaying the same log sees both writes.
	l, err = OpenVNodeLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	r2 := NewRing(didFromUint(100))
	if err := r2.AttachVNodeLog(l); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if v, ok := r2.Store().Get(didFromUint(150)); !ok || string(v) != "kept" {
		t.Fatalf("replayed put = %q ok=%v", v, ok)
	}
	if v, ok := r2.Store().Get(didFromUint(160)); !ok || string(v) != "merged" {
		t.Fatalf("replayed merge = %q ok=%v", v, ok)
	}
}
