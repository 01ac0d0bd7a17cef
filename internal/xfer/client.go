package xfer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client drives the round-trip loop of §4.6: build outbound, exchange
// one HTTP round, ingest the reply, decide whether to loop again.
// Unlike Server (one shot per call), Client owns the whole session for
// its lifetime and keeps peerhave/peerneed across rounds (§3
// Lifecycles).
type Client struct {
	Sess      *Session
	Transport Transport
	Auth      Authenticator // nil: client never authenticates an inbound login
	CfgSink   ConfigSink
	URL       string

	// login is filled in by the caller before Run when a non-anonymous
	// identity is wanted; the very first round of a clone omits it
	// regardless (§4.6 step 2).
	loginUser   string
	loginSecret string

	maxRounds int // safety bound distinct from the termination predicate, 0 = default

	// cloneVersion is set by SetVersionedClone to arm the "clone V SEQ"
	// request card every round the clone is still in progress (mirrors
	// the original's client_sync loop re-sending it once cloneSeqno
	// comes back non-zero).
	cloneVersion int
}

// SetVersionedClone arms this client to drive a versioned clone
// starting at seq (normally 1 for a fresh clone), requesting schema
// version v (3, per the original's "clone 3 SEQ" wire constant).
func (c *Client) SetVersionedClone(v int, seq int64) {
	c.Sess.Role |= RoleClone
	c.Sess.VersionedClone = true
	c.Sess.CloneSeqno = LocalID(seq)
	c.cloneVersion = v
}

// NewClient wires a session, transport, and endpoint into a driver
// ready to Run.
func NewClient(sess *Session, transport Transport, url string) *Client {
	return &Client{Sess: sess, Transport: transport, URL: url}
}

// SetLogin arms the outbound login card for every round after the
// first round of a clone.
func (c *Client) SetLogin(user, secret string) {
	c.loginUser, c.loginSecret = user, secret
}

// SetCiLock requests a check-in lock on checkin for the next outbound
// pass (§4.4 step 2, "pragma ci-lock"). A rejected request surfaces as
// an inbound "pragma ci-lock-fail" card, which the ingest pipeline logs
// and otherwise ignores.
func (c *Client) SetCiLock(checkin string) {
	c.Sess.CkinLock = checkin
}

// defaultMaxRounds bounds the loop independent of the termination
// predicate, as a last-resort guard against a misbehaving peer that
// keeps the predicate satisfied forever (the predicate itself is
// proved to make progress per §4.7, this is belt-and-suspenders).
const defaultMaxRounds = 10000

// roundOutcome carries what one HTTP round-trip observed, feeding the
// termination predicate (§4.7).
type roundOutcome struct {
	filesReceived    bool
	phantomsCreated  bool
	filesSent        bool
	privIGotReceived bool
	gimmeOutstanding bool
	uvGimmeOut       bool
}

// Run executes rounds until the termination predicate (§4.7) says
// stop, a transport error aborts the session, or the round safety
// bound is hit. It returns the number of rounds executed and the
// first transport/server-reported fatal error, if any.
func (c *Client) Run(ctx context.Context) (rounds int, err error) {
	maxRounds := c.maxRounds
	if maxRounds == 0 {
		maxRounds = defaultMaxRounds
	}

	var last roundOutcome
	for rounds = 0; rounds < maxRounds; rounds++ {
		if err := c.Sess.Store.Begin(); err != nil {
			return rounds, err
		}

		outcome, rerr := c.round(ctx, rounds)
		if rerr != nil {
			c.Sess.Store.Rollback()
			return rounds, rerr
		}
		if err := c.Sess.Store.Commit(); err != nil {
			return rounds, err
		}

		last = outcome
		c.Sess.RoundCount++
		if !shouldContinue(c.Sess, last) {
			rounds++
			break
		}
	}
	return rounds, nil
}

// round performs exactly one build/exchange/ingest cycle (§4.6 steps
// 1-5).
func (c *Client) round(ctx context.Context, roundIdx int) (roundOutcome, error) {
	firstRoundOfClone := roundIdx == 0 && c.Sess.Role.has(RoleClone)
	c.Sess.FirstRoundOfClone = firstRoundOfClone

	// The clone stream is the server's reply to "clone V SEQ"; keep the
	// planner from running it here, where it would reset the cursor.
	versioned := c.Sess.VersionedClone
	c.Sess.VersionedClone = false
	out := BuildOutbound(c.Sess, nil, nil, nil)
	c.Sess.VersionedClone = versioned
	if c.cloneVersion != 0 && c.Sess.VersionedClone {
		out = append([]byte(fmt.Sprintf("clone %d %d\n", c.cloneVersion, int64(c.Sess.CloneSeqno))), out...)
	}
	if !firstRoundOfClone && c.loginUser != "" {
		out = c.prependLogin(out)
	}

	reply, err := c.Transport.Exchange(ctx, c.URL, out)
	if err != nil {
		return roundOutcome{}, err
	}

	phantomsBefore := len(c.Sess.Store.IteratePhantoms())
	res := ProcessInbound(c.Sess, reply, c.Auth, c.CfgSink, firstRoundOfClone)
	if res.Fatal != nil {
		return roundOutcome{}, res.Fatal
	}

	c.recordClockSkew(reply)

	phantomsAfter := len(c.Sess.Store.IteratePhantoms())
	phantomsRemain := phantomsAfter > 0
	return roundOutcome{
		filesReceived:    res.FilesReceived,
		phantomsCreated:  phantomsAfter > phantomsBefore,
		filesSent:        c.Sess.NFileSent > 0 || c.Sess.NDeltaSent > 0,
		privIGotReceived: res.PrivIGotReceived,
		gimmeOutstanding: res.GimmeReceived || phantomsRemain,
		uvGimmeOut:       res.UvFilesReceived,
	}, nil
}

// prependLogin injects a "login USER NONCE SIG" card ahead of the rest
// of an already-built outbound message, using the SHA-1 of that whole
// message (random "# NONCE" trailer included) as the challenge (§4.2,
// §4.6 step 2). The
// login line must be the very first card so its hash seals everything
// that follows, matching the server's tail-hash check in
// dispatchCard's LoginCard case.
func (c *Client) prependLogin(out []byte) []byte {
	// The nonce IS sha1(tail_of_message_after_this_line): the tail is
	// exactly `out`, since login goes first, so the nonce must be
	// derived from `out` itself rather than drawn fresh.
	tok := SHA1Hex(out)
	secret := SharedSecretLegacy(c.loginSecret)
	sig := LoginSignature(tok, secret)

	login := "login " + c.loginUser + " " + tok + " " + sig + "\n"
	buf := make([]byte, 0, len(login)+len(out))
	buf = append(buf, login...)
	buf = append(buf, out...)
	return buf
}

// recordClockSkew reads the server's "# timestamp ISO8601 errors N"
// trailer card and records the drift against the local clock (§4.8
// "Server clock skew >10s -> warning"; SPEC_FULL's ClockSkew field).
func (c *Client) recordClockSkew(reply []byte) {
	f := NewFrame(reply)
	for {
		line, isComment, ok := f.NextCardLine()
		if !ok {
			return
		}
		if !isComment {
			continue
		}
		fields := strings.Fields(string(line))
		if len(fields) < 3 || fields[0] != "#" || fields[1] != "timestamp" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return
		}
		c.Sess.ClockSkew = time.Since(ts)
		return
	}
}

// shouldContinue implements §4.7's termination predicate: continue if
// any of five progress conditions hold, each of which either strictly
// shrinks outstanding phantoms, strictly grows delivered artifacts, or
// advances a bounded cursor. The first condition also counts a round
// that created new phantoms (e.g. from a pull reply's "have" cards), so
// the next round can request them.
func shouldContinue(sess *Session, last roundOutcome) bool {
	if (last.filesReceived || last.phantomsCreated) && len(sess.Store.IteratePhantoms()) > 0 {
		return true
	}
	if last.filesSent && (last.uvGimmeOut || last.gimmeOutstanding) {
		return true
	}
	if last.privIGotReceived && sess.RoundCount == 1 {
		return true
	}
	if last.uvGimmeOut && (last.filesReceived || sess.RoundCount < 3) {
		return true
	}
	if sess.Role.has(RoleClone) &&
		(sess.RoundCount < 2 || last.filesReceived || (sess.CloneSeqno != 0 && last.filesReceived)) {
		return true
	}
	return false
}
