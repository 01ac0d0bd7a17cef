package xfer

import "testing"

func TestContentPutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	hash := SHA1Hex([]byte("hello"))
	id, err := s.ContentPut([]byte("hello"), hash, 0, false)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	content, ok := s.ContentGet(id)
	if !ok || string(content) != "hello" {
		t.Fatalf("get = %q, %v", content, ok)
	}
	if s.IsPhantom(id) {
		t.Fatalf("stored content should not be a phantom")
	}
}

func TestHashToLocalIDCreatesPhantom(t *testing.T) {
	s := NewMemStore()
	hash := SHA1Hex([]byte("missing"))
	id, err := s.HashToLocalID(hash, true, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !s.IsPhantom(id) {
		t.Fatalf("expected phantom")
	}
	phantoms := s.IteratePhantoms()
	if len(phantoms) != 1 || phantoms[0] != id {
		t.Fatalf("IteratePhantoms = %v", phantoms)
	}
	if got, ok := s.HashOf(id); !ok || got != hash {
		t.Fatalf("HashOf = %q, %v", got, ok)
	}
}

func TestIteratePhantomsExcludesRealContent(t *testing.T) {
	s := NewMemStore()
	realHash := SHA1Hex([]byte("real"))
	realID, _ := s.ContentPut([]byte("real"), realHash, 0, false)
	phantomHash := SHA1Hex([]byte("phantom"))
	phantomID, _ := s.HashToLocalID(phantomHash, true, false)

	phantoms := s.IteratePhantoms()
	if len(phantoms) != 1 || phantoms[0] != phantomID {
		t.Fatalf("IteratePhantoms = %v, want only %v", phantoms, phantomID)
	}
	root := s.IterateRoot()
	if len(root) != 1 || root[0] != realID {
		t.Fatalf("IterateRoot = %v, want only %v", root, realID)
	}
}

func TestCommitAndRollback(t *testing.T) {
	s := NewMemStore()
	hash := SHA1Hex([]byte("committed"))
	s.Begin()
	id, _ := s.ContentPut([]byte("committed"), hash, 0, false)
	s.Commit()
	if !s.Exists(id) {
		t.Fatalf("committed content should exist")
	}

	s.Begin()
	secondHash := SHA1Hex([]byte("rolled back"))
	secondID, _ := s.ContentPut([]byte("rolled back"), secondHash, 0, false)
	s.Rollback()
	if s.Exists(secondID) {
		t.Fatalf("rolled-back content should not exist")
	}
	if !s.Exists(id) {
		t.Fatalf("rollback must not discard pre-transaction state")
	}
}

func TestApplyDeltaMakeDeltaRoundTrip(t *testing.T) {
	s := NewMemStore()
	srcHash := SHA1Hex([]byte("base-content"))
	srcID, _ := s.ContentPut([]byte("base-content"), srcHash, 0, false)
	targetHash := SHA1Hex([]byte("target-content-longer"))
	targetID, _ := s.ContentPut([]byte("target-content-longer"), targetHash, 0, false)

	delta, ok := s.MakeDelta(srcID, targetID)
	if !ok {
		t.Fatalf("MakeDelta failed")
	}
	rebuilt, err := s.ApplyDelta(srcID, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if string(rebuilt) != "target-content-longer" {
		t.Fatalf("rebuilt = %q", rebuilt)
	}
}

func TestUvPutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	if _, ok := s.UvGet("manifest.txt"); ok {
		t.Fatalf("expected no record before UvPut")
	}
	s.UvPut("manifest.txt", UvRecord{Mtime: 1700000000, Hash: SHA1Hex([]byte("abc")), Payload: []byte("abc")})
	rec, ok := s.UvGet("manifest.txt")
	if !ok || string(rec.Payload) != "abc" || rec.Mtime != 1700000000 {
		t.Fatalf("UvGet = %#v, %v", rec, ok)
	}
}

func TestPrivacyFlags(t *testing.T) {
	s := NewMemStore()
	hash := SHA1Hex([]byte("secret"))
	id, _ := s.ContentPut([]byte("secret"), hash, 0, true)
	if !s.IsPrivate(id) {
		t.Fatalf("expected private")
	}
	s.MakePublic(id)
	if s.IsPrivate(id) {
		t.Fatalf("expected public after MakePublic")
	}
}
