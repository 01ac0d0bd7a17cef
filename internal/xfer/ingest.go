package xfer

import (
	"strings"
)

// ConfigSink receives "config NAME SIZE" payloads for names the
// embedder actually asked for (§4.3 config row); everything else is
// dropped silently.
type ConfigSink interface {
	Wants(name string) bool
	Receive(name string, payload []byte)
}

// InboundResult summarizes one inbound pass for the termination
// predicate (§4.7) and the emit planner's step 6/7.
type InboundResult struct {
	FilesReceived    bool
	PrivIGotReceived bool
	GimmeReceived    bool
	UvFilesReceived  bool
	IncomingRequests []string // hashes requested via ineed/gimme this pass
	LinkedRepos      []LinkedRepo
	Fatal            *CardError
}

// ProcessInbound runs the framing + ingest pipeline over buf, routing
// each card to its handler in arrival order (§4.3, §5 "Ordering
// guarantees"). It stops at the first fatal error, leaving the rest of
// the buffer unread — the caller resets its outbound buffer and emits
// a single "error" card (§4.8).
func ProcessInbound(sess *Session, buf []byte, auth Authenticator, cfgSink ConfigSink, firstRoundOfClone bool) *InboundResult {
	res := &InboundResult{}

	if len(buf) > 0 && buf[0] == '<' {
		res.Fatal = newErr(KindMalformedCard, "", "HTML received instead of protocol data")
		return res
	}

	f := NewFrame(buf)
	for {
		line, isComment, ok := f.NextCardLine()
		if !ok {
			break
		}
		if isComment {
			continue // "# timestamp ...", "# NONCE" — metadata, not cards
		}

		tailStart := f.Pos() // position right after this header line's '\n'
		card, err := ParseCard(line, f)
		if err != nil {
			ce := err.(*CardError)
			res.Fatal = ce
			sess.NErrors++
			return res
		}

		if fatal := dispatchCard(sess, card, f, buf[tailStart:], auth, cfgSink, firstRoundOfClone, res); fatal != nil {
			res.Fatal = fatal
			sess.NErrors++
			return res
		}
	}
	return res
}

func dispatchCard(sess *Session, card Card, f *Frame, tail []byte, auth Authenticator, cfgSink ConfigSink, firstRoundOfClone bool, res *InboundResult) *CardError {
	switch c := card.(type) {

	case PullCard:
		if sess.ProjectCode != "" && c.PCode != sess.ProjectCode {
			return newErr(KindProjectMismatch, "pull", "")
		}
		if !sess.hasCap(CapRead) {
			return newErr(KindUnauthorized, "pull", "not authorized to read")
		}
		sess.IsPull = true
		sess.ServerCode = c.SCode
		sess.ProjectCode = c.PCode

	case PushCard:
		if sess.ProjectCode != "" && c.PCode != sess.ProjectCode {
			return newErr(KindProjectMismatch, "push", "")
		}
		if !sess.hasCap(CapWrite) {
			if sess.IsPull {
				sess.PushOptional = true
			} else {
				return newErr(KindUnauthorized, "push", "not authorized to write")
			}
		}
		sess.IsPush = true
		sess.ServerCode = c.SCode
		sess.ProjectCode = c.PCode

	case CloneCard:
		if !sess.hasCap(CapClone) {
			return newErr(KindUnauthorized, "clone", "not authorized to clone")
		}
		sess.Role |= RoleClone
		if c.Versioned {
			sess.VersionedClone = true
			sess.CloneSeqno = LocalID(c.Seq)
		} else {
			sess.IsPull = true
		}

	case LoginCard:
		if SHA1Hex(tail) != c.Nonce {
			return newErr(KindAuthFailure, "login", "")
		}
		caps, ok := verifyLogin(auth, c.User, c.Nonce, c.Sig)
		if !ok {
			return newErr(KindAuthFailure, "login", "")
		}
		sess.Caps |= caps

	case HaveCard:
		// Normally only meaningful on a push leg (the sender is telling
		// us what it holds so we don't re-request it). The server's
		// initial-clone/pull seeding round (§4.5 step 6) also announces
		// its root set this way, so a pulling or cloning receiver must
		// phantomize unknown hashes too or the seeding never converges.
		if sess.IsPush || sess.IsPull || sess.Role.has(RoleClone) {
			id, _ := sess.Store.HashToLocalID(c.Hash, true, false)
			sess.markPeerHave(id)
		}

	case IGotCard:
		// Unknown hash while pulling/cloning: create a phantom so the
		// emit planner schedules a "gimme" for it next round. Known
		// hash or pushing: just resolve, don't phantomize (§4.3 igot
		// row). Either way the id goes into peer-have, and the private
		// flag is mirrored into local privacy state whether the record
		// already existed or was just created (§4.3 igot row, I2/P3).
		createPhantom := sess.IsPull || sess.Role.has(RoleClone)
		id, err := sess.Store.HashToLocalID(c.Hash, createPhantom, c.Private)
		if err == nil && id != 0 {
			sess.markPeerHave(id)
			if c.Private {
				sess.Store.MakePrivate(id)
			} else {
				sess.Store.MakePublic(id)
			}
		}
		if c.Private && sess.RoundCount == 0 {
			sess.NPrivIGot++
			res.PrivIGotReceived = true
		}

	case HashRequestCard:
		sess.markPeerNeed(c.Hash)
		res.IncomingRequests = append(res.IncomingRequests, c.Hash)
		res.GimmeReceived = true

	case FileCard:
		if err := ingestFile(sess, c.Hash, c.HasDelta, c.DeltaSrc, c.Payload); err != nil {
			return err
		}
		res.FilesReceived = true

	case CFileCard:
		raw, err := decompress(c.Codec, c.Payload)
		if err != nil {
			return err.(*CardError)
		}
		if err := ingestFile(sess, c.Hash, c.HasDelta, c.DeltaSrc, raw); err != nil {
			return err
		}
		res.FilesReceived = true

	case AtomCard:
		if c.BOff == 0 && c.EOff == c.Size {
			if err := ingestFile(sess, c.Hash, false, "", c.Payload); err != nil {
				return err
			}
			res.FilesReceived = true
		}
		// Partial atom reassembly is unimplemented per spec Design
		// Notes (a); the partial is parsed and validated but dropped.

	case ConfigCard:
		if cfgSink != nil && cfgSink.Wants(c.Name) {
			cfgSink.Receive(c.Name, c.Payload)
		}

	case CookieCard:
		sess.Cookie = c.Text

	case PrivateCard:
		sess.privateMarkPending = true

	case CloneSeqnoCard:
		sess.CloneSeqno = LocalID(c.N)
		if c.N == 0 {
			sess.VersionedClone = false
		}

	case MessageCard:
		if sess.IsPush && strings.HasPrefix(c.Text, "pull only") {
			sess.IsPush = false
		}

	case PragmaCard:
		switch c.Name {
		case "link":
			if repo, err := parsePragmaLink(c.Args); err == nil {
				res.LinkedRepos = append(res.LinkedRepos, repo)
			}
		case "server-version":
			if len(c.Args) >= 1 {
				if n, perr := parseIntTok(c.Args[0], "pragma"); perr == nil {
					sess.PeerVersion = uint32(n)
				}
			}
		case "uv-pull-only":
			sess.IsPush = false
		case "uv-push-ok":
			// no-op marker; presence alone is sufficient
		case "ci-lock-fail":
			if len(c.Args) >= 2 && sess.Log != nil {
				sess.Log.Printf("ci-lock held by %s since %s", c.Args[0], c.Args[1])
			}
		case "avoid-delta-manifests":
			// informational, no session effect in the core
		default:
			// unknown pragmas are silently ignored (forward-compat, §7)
		}

	case UvFileCard:
		if uv, ok := sess.Store.(UvStore); ok {
			uv.UvPut(c.Name, UvRecord{Mtime: c.Mtime, Hash: c.Hash, Payload: c.Payload})
		}
		res.UvFilesReceived = true

	case ErrorCard:
		// Re-derive "first round of a clone" here rather than trusting
		// the snapshot taken before this message was parsed: a leading
		// "clone" card in this same message only just set sess.Role, so
		// the caller's pre-parse snapshot would always read it as unset.
		inClone := firstRoundOfClone || (sess.RoundCount == 0 && sess.Role.has(RoleClone))
		if !ignorable(c.Text, inClone, sess.PushOptional) {
			return newErr(KindTransportError, "error", "%s", c.Text)
		}

	case UnknownCard:
		return newErr(KindMalformedCard, c.VerbName, "%s", c.VerbName)
	}
	return nil
}

// ingestFile verifies and stores one file/cfile payload (§4.3 file/
// cfile rows, invariant I1).
func ingestFile(sess *Session, hash string, hasDelta bool, deltaSrc string, payload []byte) *CardError {
	private := sess.privateMarkPending
	sess.privateMarkPending = false

	if !hasDelta {
		if Verify(payload, hash) != VerifyOK {
			return newErr(KindHashMismatch, "file", "%s", hash)
		}
		if known, _ := sess.Store.HashToLocalID(hash, false, false); known != 0 && !sess.Store.IsPhantom(known) {
			// Already held with content: nothing is written again.
			sess.markPeerHave(known)
			return nil
		}
		id, err := sess.Store.ContentPut(payload, hash, 0, private)
		if err != nil {
			return newErr(KindMalformedCard, "file", "store: %v", err)
		}
		sess.markPeerHave(id)
		sess.NFileRcvd++
		return nil
	}

	srcID, _ := sess.Store.HashToLocalID(deltaSrc, true, false)
	if sess.Store.IsPhantom(srcID) {
		// Source absent: store raw and count as dangling (§4.3 file row).
		if Verify(payload, hash) != VerifyOK {
			return newErr(KindHashMismatch, "file", "%s", hash)
		}
		id, err := sess.Store.ContentPut(payload, hash, 0, private)
		if err != nil {
			return newErr(KindMalformedCard, "file", "store: %v", err)
		}
		sess.markPeerHave(id)
		sess.NDanglingFile++
		return nil
	}

	content, err := sess.Store.ApplyDelta(srcID, payload)
	if err != nil {
		return newErr(KindMalformedCard, "file", "delta: %v", err)
	}
	if Verify(content, hash) != VerifyOK {
		return newErr(KindHashMismatch, "file", "%s", hash)
	}
	id, err := sess.Store.ContentPut(content, hash, srcID, private)
	if err != nil {
		return newErr(KindMalformedCard, "file", "store: %v", err)
	}
	sess.markPeerHave(id)
	sess.NDeltaRcvd++
	return nil
}
