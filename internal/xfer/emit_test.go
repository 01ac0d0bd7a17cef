package xfer

import (
	"strings"
	"testing"
)

func TestBuildOutboundEmitsGimmeForPhantoms(t *testing.T) {
	sess, store := newTestSession()
	hash := SHA1Hex([]byte("wanted"))
	store.HashToLocalID(hash, true, false)
	sess.IsPull = true

	out := string(BuildOutbound(sess, nil, nil, nil))
	if !strings.Contains(out, "gimme "+hash) {
		t.Fatalf("expected gimme card for phantom, got:\n%s", out)
	}
}

func TestBuildOutboundEmitsHaveForRootSet(t *testing.T) {
	sess, store := newTestSession()
	hash := SHA1Hex([]byte("local-artifact"))
	store.ContentPut([]byte("local-artifact"), hash, 0, false)
	sess.IsPush = true

	out := string(BuildOutbound(sess, nil, nil, nil))
	if !strings.Contains(out, "have "+hash) {
		t.Fatalf("expected have card, got:\n%s", out)
	}
}

func TestBuildOutboundSkipsPeerHaveDuplicates(t *testing.T) {
	sess, store := newTestSession()
	hash := SHA1Hex([]byte("already-known"))
	id, _ := store.ContentPut([]byte("already-known"), hash, 0, false)
	sess.IsPush = true
	sess.markPeerHave(id)

	out := string(BuildOutbound(sess, nil, nil, nil))
	if strings.Contains(out, "have "+hash) {
		t.Fatalf("should not re-announce an id already in peer-have, got:\n%s", out)
	}
}

func TestSendArtifactSkipsPrivateWithoutSyncPrivate(t *testing.T) {
	sess, store := newTestSession()
	content := []byte("private-data")
	hash := SHA1Hex(content)
	store.ContentPut(content, hash, 0, true)
	sess.PeerVersion = ProtocolVersion

	p := newEmitPlan(sess, nil)
	sendArtifact(p, sess, hash, false)
	out := p.buf.String()
	if strings.Contains(out, string(content)) {
		t.Fatalf("private content leaked into message: %s", out)
	}
	if !strings.Contains(out, "have "+hash+" 1") {
		t.Fatalf("expected degraded have-private announcement, got %q", out)
	}
}

func TestSendArtifactEmitsFileWhenAuthorizedAndPublic(t *testing.T) {
	sess, store := newTestSession()
	content := []byte("public-data")
	hash := SHA1Hex(content)
	store.ContentPut(content, hash, 0, false)

	p := newEmitPlan(sess, nil)
	sendArtifact(p, sess, hash, false)
	out := p.buf.String()
	if !strings.Contains(out, "file "+hash) {
		t.Fatalf("expected file card, got %q", out)
	}
	if !strings.Contains(out, "public-data") {
		t.Fatalf("expected payload in message, got %q", out)
	}
}

// scenario 6 (§8): a resync push whose outbound exceeds mxSend mid-
// iteration must resume from the exact id it stopped at, descending,
// until the store is exhausted and resync mode clears.
func TestEmitResyncHavesResumesDescendingFromCursor(t *testing.T) {
	sess, store := newTestSession()
	sess.IsPush = true
	sess.Resync = true

	var hashes []string
	for i := 0; i < 5; i++ {
		content := []byte{byte('a' + i)}
		hash := SHA1Hex(content)
		store.ContentPut(content, hash, 0, false)
		hashes = append(hashes, hash)
	}

	// Small enough that only one "have HASH" line fits before overCap trips.
	sess.MxSend = len("have "+hashes[0]+"\n") + 5

	seen := map[string]bool{}
	rounds := 0
	for sess.Resync && rounds < 10 {
		out := string(BuildOutbound(sess, nil, nil, nil))
		for _, h := range hashes {
			if strings.Contains(out, "have "+h) {
				seen[h] = true
			}
		}
		rounds++
	}

	if sess.Resync {
		t.Fatalf("resync never converged after %d rounds", rounds)
	}
	if sess.ResyncCursor != 0 {
		t.Fatalf("expected cursor to settle at 0, got %d", sess.ResyncCursor)
	}
	if rounds < 2 {
		t.Fatalf("expected pagination across multiple rounds, got %d", rounds)
	}
	for _, h := range hashes {
		if !seen[h] {
			t.Fatalf("artifact %s never announced across %d rounds", h, rounds)
		}
	}
}

// §4.4 step 2: requesting a check-in lock emits "pragma ci-lock" once
// and mints a client-id that every later round re-announces via
// "pragma ci-unlock" until the lock is requested again.
func TestBuildOutboundEmitsCiLockThenUnlock(t *testing.T) {
	sess, _ := newTestSession()
	sess.CkinLock = "abc123"

	out := string(BuildOutbound(sess, nil, nil, nil))
	if !strings.Contains(out, "pragma ci-lock abc123 ") {
		t.Fatalf("expected ci-lock pragma, got:\n%s", out)
	}
	if sess.CkinLock != "" {
		t.Fatalf("expected CkinLock cleared after emission")
	}
	clientID := sess.ClientID
	if clientID == "" {
		t.Fatalf("expected a client id to be minted")
	}

	out = string(BuildOutbound(sess, nil, nil, nil))
	if !strings.Contains(out, "pragma ci-unlock "+clientID) {
		t.Fatalf("expected ci-unlock pragma on later round, got:\n%s", out)
	}
}

func TestSendArtifactSkipsWhenPeerAlreadyHasIt(t *testing.T) {
	sess, store := newTestSession()
	content := []byte("known-already")
	hash := SHA1Hex(content)
	id, _ := store.ContentPut(content, hash, 0, false)
	sess.markPeerHave(id)

	p := newEmitPlan(sess, nil)
	sendArtifact(p, sess, hash, false)
	if p.buf.Len() != 0 {
		t.Fatalf("expected no emission, got %q", p.buf.String())
	}
}
