package xfer

import (
	"fmt"
	"net/http"
	"time"
)

// Server runs the single-shot request/transaction/commit flow of §4.5.
// Unlike Client, a Server value is stateless between calls: the caller
// supplies a fresh Session per HTTP request (§3 Lifecycles: "dropped
// per HTTP round on the server").
type Server struct {
	Auth    Authenticator
	CfgSink ConfigSink
	Now     func() time.Time
}

// NewServer wires an authenticator and config sink into a handler
// ready for Handle.
func NewServer(auth Authenticator, cfgSink ConfigSink) *Server {
	return &Server{Auth: auth, CfgSink: cfgSink}
}

// sessionReadiness answers PushReadiness from the coarse role
// capability granted during login; the protocol has no finer-grained
// per-artifact ACL (§4.2 only grants read/write/clone).
type sessionReadiness struct{ sess *Session }

func (r sessionReadiness) Authorized(hash string) bool { return r.sess.hasCap(CapRead) }

// Handle implements §4.5 steps 1-10 for one HTTP request against sess.
// method is the inbound HTTP method; non-POST requests are rejected
// per step 1 without touching the store. The returned bytes are the
// full reply body, always ending in a "# timestamp" trailer card per
// step 9, even on a failed round (§8 scenario 3).
func (s *Server) Handle(sess *Session, method string, body []byte) ([]byte, error) {
	if method != http.MethodPost {
		return nil, newErr(KindTransportError, "", "method not allowed: %s", method)
	}

	if err := sess.Store.Begin(); err != nil {
		return nil, err
	}
	sess.ResetScratch()

	wasRoundZero := sess.RoundCount == 0
	res := ProcessInbound(sess, body, s.Auth, s.CfgSink, wasRoundZero && sess.Role.has(RoleClone))

	if res.Fatal != nil {
		sess.Store.Rollback()
		return s.errorReply(sess, res.Fatal), nil
	}

	// A leading "clone" card in this very message only just set
	// sess.Role, so it must be re-read after parsing rather than from
	// the pre-parse snapshot above.
	firstRoundOfClone := wasRoundZero && sess.Role.has(RoleClone)

	// Step 5: request partials for partially-received artifacts. Not
	// implemented — partial atom reassembly is unimplemented per the
	// Design Notes open question (a); there is nothing to request.

	// Steps 6-7: seed the peer's phantom set. An initial unversioned
	// clone (full-pull mode) with no gimme cards received yet needs
	// every local artifact announced so the next round's gimme cards
	// have something to target; likewise a plain pull session needs its
	// holdings announced. Both reduce to "behave as the push side for
	// this one outbound pass", which is exactly what the emit planner's
	// normal-mode have emission already does under sess.IsPush. A
	// versioned clone instead streams content directly via CloneSeqno
	// pagination (below), so it is excluded here.
	actingAsPush := sess.IsPush
	if (firstRoundOfClone && !sess.VersionedClone && !res.GimmeReceived) || sess.IsPull {
		actingAsPush = true
	}
	savedIsPush := sess.IsPush
	sess.IsPush = actingAsPush

	out := BuildOutbound(sess, res.IncomingRequests, res.LinkedRepos, sessionReadiness{sess})
	sess.IsPush = savedIsPush

	sess.RoundCount++
	if err := sess.Store.Commit(); err != nil {
		return nil, err
	}

	return s.appendTimestamp(out, sess.NErrors), nil
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// errorReply renders the §4.8 "reset outbound, emit one error card"
// path: the accepted-so-far cards are discarded (the caller already
// rolled back the transaction) and the message becomes exactly the
// error card plus the mandatory timestamp trailer.
func (s *Server) errorReply(sess *Session, ce *CardError) []byte {
	line := fmt.Sprintf("error %s\n", ce.wireMessage())
	return s.appendTimestamp([]byte(line), sess.NErrors)
}

// appendTimestamp is §4.5 step 9: "# timestamp ISO8601 errors N" is
// always the final card of a server reply.
func (s *Server) appendTimestamp(out []byte, nErrors int) []byte {
	trailer := fmt.Sprintf("# timestamp %s errors %d\n", s.now().UTC().Format(time.RFC3339), nErrors)
	buf := make([]byte, 0, len(out)+len(trailer))
	buf = append(buf, out...)
	buf = append(buf, trailer...)
	return buf
}
