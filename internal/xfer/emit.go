package xfer

import (
	"bytes"
	"fmt"
	"time"
)

// EmitPlan is one outbound message under construction. After every
// appended line or payload it compares the buffer's length against
// mxSend and sets overCap once the byte cap (§3 I4, §8 P4) is reached;
// the card in flight is finished, and callers check overCap before
// starting the next one.
type EmitPlan struct {
	buf     bytes.Buffer
	sess    *Session
	now     func() time.Time
	overCap bool
}

func newEmitPlan(sess *Session, now func() time.Time) *EmitPlan {
	if now == nil {
		now = time.Now
	}
	return &EmitPlan{sess: sess, now: now}
}

func (p *EmitPlan) line(format string, args ...any) {
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteByte('\n')
	if p.buf.Len() >= p.sess.MxSend {
		p.overCap = true
	}
}

func (p *EmitPlan) payload(payload []byte) {
	p.buf.Write(payload)
	p.buf.WriteByte('\n')
	if p.buf.Len() >= p.sess.MxSend {
		p.overCap = true
	}
}

func (p *EmitPlan) deadlineExceeded() bool {
	return !p.sess.MaxTime.IsZero() && !p.now().Before(p.sess.MaxTime)
}

// BuildOutbound runs the emit planner once, in the order of §4.4's
// numbered steps, and returns the finished message bytes.
func BuildOutbound(sess *Session, incomingRequests []string, linkedRepos []LinkedRepo, auth PushReadiness) []byte {
	p := newEmitPlan(sess, nil)
	sess.BeginPass()

	// Step 1: role cards.
	if sess.Role.has(RolePush) && sess.IsPush {
		p.line("push %s %s", sess.ServerCode, sess.ProjectCode)
	}
	if sess.Role.has(RolePull) && sess.IsPull {
		p.line("pull %s %s", sess.ServerCode, sess.ProjectCode)
	}

	// Step 2: session pragmas.
	p.line("pragma client-version %d", ProtocolVersion)
	if sess.SyncPrivate {
		p.line("pragma send-private")
	}
	// req-links and uv-hash are out of scope; ci-lock/ci-unlock are not
	// and get a real emission here (§4.4 step 2).
	if sess.CkinLock != "" {
		if sess.ClientID == "" {
			sess.ClientID = randomClientID()
		}
		p.line("pragma ci-lock %s %s", sess.CkinLock, sess.ClientID)
		sess.CkinLock = ""
	} else if sess.ClientID != "" {
		p.line("pragma ci-unlock %s", sess.ClientID)
	}

	// Step 3: cookie.
	if sess.Cookie != "" {
		p.line("cookie %s", sess.Cookie)
	}

	// Step 4: gimme cards for local phantoms.
	if sess.IsPull || sess.Role.has(RoleClone) {
		emitGimmeCards(p, sess)
	}

	// Step 5: have cards announcing local holdings.
	if sess.IsPush {
		if sess.Resync {
			emitResyncHaves(p, sess)
		} else {
			emitNormalHaves(p, sess)
		}
	}

	// Step 6: private igot cards.
	if sess.IsPush && sess.SyncPrivate {
		emitPrivateIGots(p, sess)
	}

	// Versioned clone: stream artifacts ascending from the requested
	// cursor, paced by the byte/time caps, and report the resume point
	// (§4.3 "clone" row, §8 scenario 5).
	if sess.VersionedClone {
		emitCloneStream(p, sess)
	}

	// Step 7: respond to gimme/ineed, but only for hashes we're
	// authorized to serve (§4.3 ineed/gimme row: "silently dropped if
	// unauthorized").
	for _, hash := range incomingRequests {
		if auth == nil || auth.Authorized(hash) {
			sendArtifact(p, sess, hash, false)
		}
	}

	// Alternate-repository advertisement (§4.5 server step 8): known
	// linked repos are re-announced so the peer can cross-register them.
	for _, repo := range linkedRepos {
		p.line("pragma link %s %s %d", repo.URL, repo.Arg, repo.Mtime)
	}

	// Step 8: nonce trailer, ensures message uniqueness for the next
	// login's nonce (§4.4 step 8, §4.2).
	p.line("# %s", nonce())

	return p.buf.Bytes()
}

// PushReadiness lets the emit planner ask whether the peer is
// authorized to receive content, without importing the full server
// auth surface. The server supplies this from the session's own
// capability check; a client always answers true (it is requesting,
// not authorizing).
type PushReadiness interface {
	Authorized(hash string) bool
}

// ProtocolVersion is this implementation's negotiated version number,
// compared against PeerVersion for feature gating (e.g. the "have HASH 1"
// announcement of a private artifact in sendArtifact; the SHA-3 cutover
// there is a separate check against 20000).
const ProtocolVersion = 20200413

func emitGimmeCards(p *EmitPlan, sess *Session) {
	sent := 0
	for _, id := range sess.Store.IteratePhantoms() {
		if sent >= sess.mxPhantomReq {
			break
		}
		hash, ok := sess.Store.HashOf(id)
		if !ok || sess.peerNeeds(hash) {
			continue
		}
		p.line("gimme %s", hash)
		sess.markPeerNeed(hash)
		sess.NGimmeSent++
		sent++
	}
	sess.growPhantomCeiling()
}

func emitNormalHaves(p *EmitPlan, sess *Session) {
	for _, id := range sess.Store.IterateRoot() {
		if sess.peerHasIt(id) || sess.sentThisPass[id] {
			continue
		}
		hash, ok := sess.Store.HashOf(id)
		if !ok {
			continue
		}
		// A hash the peer asked for gets its content in step 7; marking
		// it peer-have here would make sendArtifact skip it.
		if sess.peerNeeds(hash) {
			continue
		}
		p.line("have %s", hash)
		sess.sentThisPass[id] = true
		sess.markPeerHave(id)
		if p.overCap {
			return
		}
	}
}

// emitResyncHaves re-announces every local artifact below the resync
// cursor in descending order (§4.4 step 5 "Resync mode"); if the
// message fills up mid-iteration the last id emitted becomes the new
// cursor to resume from next round (§8 scenario 6).
func emitResyncHaves(p *EmitPlan, sess *Session) {
	if sess.ResyncCursor == 0 {
		sess.ResyncCursor = sess.Store.MaxLocalID() + 1
	}
	ids := sess.Store.IterateAllDescending(sess.ResyncCursor)
	for _, id := range ids {
		hash, ok := sess.Store.HashOf(id)
		if !ok {
			continue
		}
		if !sess.peerHasIt(id) {
			p.line("have %s", hash)
			sess.markPeerHave(id)
		}
		if p.overCap {
			sess.ResyncCursor = id
			return
		}
	}
	sess.ResyncCursor = 0
	sess.Resync = false
}

func emitPrivateIGots(p *EmitPlan, sess *Session) {
	for _, id := range sess.Store.IterateRoot() {
		if !sess.Store.IsPrivate(id) || sess.peerHasIt(id) {
			continue
		}
		hash, ok := sess.Store.HashOf(id)
		if !ok {
			continue
		}
		p.line("igot %s 1", hash)
		sess.markPeerHave(id)
		sess.NIGotSent++
		if p.overCap {
			return
		}
	}
}

// emitCloneStream sends artifacts in ascending local-id order starting
// at sess.CloneSeqno, stopping once the byte or time cap is hit. The
// first id left unsent becomes the next clone_seqno; 0 once the store
// is exhausted (§8 scenario 5).
func emitCloneStream(p *EmitPlan, sess *Session) {
	ids := sess.Store.IterateAscendingFrom(sess.CloneSeqno)
	next := LocalID(0)
	for _, id := range ids {
		if p.overCap || p.deadlineExceeded() {
			next = id
			break
		}
		hash, ok := sess.Store.HashOf(id)
		if !ok || sess.Store.IsPhantom(id) {
			continue
		}
		sendArtifact(p, sess, hash, false)
	}
	sess.CloneSeqno = next
	if next == 0 {
		sess.VersionedClone = false
	}
	p.line("clone_seqno %d", int64(next))
}

// sendArtifact is the central emission decision of §4.4: decide
// whether a requested hash is sent as content, degraded to a bare
// "have", or skipped.
func sendArtifact(p *EmitPlan, sess *Session, hash string, preferNativeDelta bool) {
	id, err := sess.Store.HashToLocalID(hash, false, false)
	if err != nil || id == 0 {
		return
	}

	if sess.Store.IsPrivate(id) && !sess.SyncPrivate {
		if sess.PeerVersion >= ProtocolVersion {
			p.line("have %s 1", hash)
		}
		return
	}

	if sess.peerHasIt(id) {
		return
	}

	if len(hash) > 40 && sess.PeerVersion < 20000 {
		p.line("pragma cannot-send-sha3 %s", hash)
		sess.markPeerHave(id)
		return
	}

	if p.deadlineExceeded() || p.overCap {
		p.line("have %s", hash)
		sess.markPeerHave(id)
		return
	}

	private := sess.Store.IsPrivate(id)
	if private {
		p.line("private")
	}

	if preferNativeDelta {
		if delta, srcID, ok := tryNativeDelta(sess, id); ok {
			srcHash, _ := sess.Store.HashOf(srcID)
			p.line("file %s %s %d", hash, srcHash, len(delta))
			p.payload(delta)
			sess.NDeltaSent++
			sess.markPeerHave(id)
			return
		}
	}

	content, ok := sess.Store.ContentGet(id)
	if !ok {
		return
	}
	if len(content) > 100 && !preferNativeDelta {
		if delta, srcID, ok := tryParentManifestDelta(sess, id); ok {
			srcHash, _ := sess.Store.HashOf(srcID)
			p.line("file %s %s %d", hash, srcHash, len(delta))
			p.payload(delta)
			sess.NDeltaSent++
			sess.markPeerHave(id)
			return
		}
	}

	p.line("file %s %d", hash, len(content))
	p.payload(content)
	sess.NFileSent++
	sess.markPeerHave(id)
}

// tryNativeDelta and tryParentManifestDelta model the two delta source
// lookup policies named in Design Notes as "an enum of strategies with
// a common interface". The in-memory reference store's MakeDelta is a
// single best-effort strategy; a production store would try a real
// native-format delta first and a manifest-parent delta second.
func tryNativeDelta(sess *Session, target LocalID) (delta []byte, src LocalID, ok bool) {
	return tryDeltaAgainstCandidates(sess, target)
}

func tryParentManifestDelta(sess *Session, target LocalID) (delta []byte, src LocalID, ok bool) {
	return tryDeltaAgainstCandidates(sess, target)
}

func tryDeltaAgainstCandidates(sess *Session, target LocalID) ([]byte, LocalID, bool) {
	for _, candidate := range sess.Store.IterateRoot() {
		if candidate == target {
			continue
		}
		if delta, ok := sess.Store.MakeDelta(candidate, target); ok {
			return delta, candidate, true
		}
	}
	return nil, 0, false
}
