package xfer

import (
	"log"
	"math/rand"
	"time"
)

// Capability bits, unioned across every successful login card in a
// message (§4.2).
type Capability int

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapClone
)

const anonymousCaps = CapRead | CapClone

// Role bits; a session may be push, pull, clone, or any combination
// (§3 Session).
type Role int

const (
	RolePull Role = 1 << iota
	RolePush
	RoleClone
)

func (r Role) has(bit Role) bool { return r&bit != 0 }

// Session is the scope of one synchronization attempt: every counter,
// flag, and scratch table the core threads through ingest/emit instead
// of reaching for a process-wide global (Design Notes: "no process-wide
// singletons").
type Session struct {
	Store  Store
	Config Config
	Log    *log.Logger

	Role         Role
	SyncPrivate  bool
	Resync       bool
	ResyncCursor LocalID

	Caps Capability

	PeerVersion uint32
	PeerDate    uint32
	PeerTime    uint32

	MxSend  int
	MaxTime time.Time

	Cookie string

	ProjectCode string
	ServerCode  string

	// CkinLock names a check-in to lock on the next outbound pass
	// (pragma ci-lock); cleared once emitted. ClientID is this client's
	// persistent lock-holder identity, minted the first time a lock is
	// requested and reused for every ci-unlock thereafter (§4.4 step 2).
	CkinLock string
	ClientID string

	// peerhave/peerneed are ephemeral, scoped to one message (server)
	// or persisted across rounds within one session (client) — §3.
	peerHave map[LocalID]bool
	peerNeed map[string]bool

	// sentThisPass dedups outbound announcements within one emit pass
	// even when two root entries would otherwise double-announce the
	// same local-id (SPEC_FULL supplemented bookkeeping).
	sentThisPass map[LocalID]bool

	// Counters, per round (§3).
	NFileSent     int
	NDeltaSent    int
	NGimmeSent    int
	NIGotSent     int
	NFileRcvd     int
	NDeltaRcvd    int
	NDanglingFile int
	NPrivIGot     int
	NErrors       int

	// Round bookkeeping used by the termination predicate (§4.7).
	RoundCount     int
	CloneSeqno     LocalID
	VersionedClone bool
	IsPull        bool
	IsPush        bool
	PushOptional  bool // "pull only" demotion, §4.3 push row
	FirstRoundOfClone bool

	ClockSkew time.Duration

	// mxPhantomReq is the current ceiling on gimme cards emitted per
	// round; it doubles each round up to mxPhantomReqCeil (§4.4 step 4).
	mxPhantomReq int

	// privateMarkPending is set by a "private" card and consumed by
	// the very next file/cfile card it precedes (§4.3 "private" row).
	privateMarkPending bool
}

const (
	mxPhantomReqInitial = 200
	mxPhantomReqCeil    = 50000
)

// NewSession creates session state with the given store/config, ready
// for one client or server pass. Scratch tables start empty; phantoms
// persist across sessions in the store, not here (§3 Lifecycles).
func NewSession(store Store, cfg Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		Store:        store,
		Config:       cfg,
		Log:          logger,
		peerHave:     make(map[LocalID]bool),
		peerNeed:     make(map[string]bool),
		sentThisPass: make(map[LocalID]bool),
		mxPhantomReq: mxPhantomReqInitial,
		MxSend:       cfg.GetInt("max-upload", 250000),
	}
}

// ResetScratch clears peerhave/peerneed/sentThisPass. The server does
// this every request (§3 Lifecycles: "dropped per HTTP round on the
// server"); the client does not call it between rounds of one session.
func (s *Session) ResetScratch() {
	s.peerHave = make(map[LocalID]bool)
	s.peerNeed = make(map[string]bool)
	s.sentThisPass = make(map[LocalID]bool)
}

// BeginPass clears the sentThisPass dedup set and resets the per-round
// counters (including NErrors), called at the start of every outbound
// pass (once per round on both sides). peerhave/peerneed are kept.
func (s *Session) BeginPass() {
	s.sentThisPass = make(map[LocalID]bool)
	s.NFileSent, s.NDeltaSent = 0, 0
	s.NGimmeSent, s.NIGotSent = 0, 0
	s.NFileRcvd, s.NDeltaRcvd = 0, 0
	s.NDanglingFile, s.NPrivIGot = 0, 0
	s.NErrors = 0
}

func (s *Session) markPeerHave(id LocalID) {
	if id != 0 {
		s.peerHave[id] = true
	}
}

func (s *Session) peerHasIt(id LocalID) bool {
	return s.peerHave[id]
}

func (s *Session) markPeerNeed(hash string) {
	s.peerNeed[hash] = true
}

func (s *Session) peerNeeds(hash string) bool {
	return s.peerNeed[hash]
}

func (s *Session) hasCap(c Capability) bool { return s.Caps&c != 0 }

func (s *Session) grantAnonymous() { s.Caps |= anonymousCaps }

// growPhantomCeiling doubles the gimme ceiling each round, up to a
// bound, per §4.4 step 4 ("cap doubles each round up to a reasonable
// ceiling").
func (s *Session) growPhantomCeiling() {
	s.mxPhantomReq *= 2
	if s.mxPhantomReq > mxPhantomReqCeil {
		s.mxPhantomReq = mxPhantomReqCeil
	}
}

// nonce returns a fresh random token for the trailing "# NONCE" card
// and for forming the login signature input (§4.4 step 8, §4.2).
func nonce() string {
	const alphabet = "0123456789abcdef"
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(buf)
}

// randomClientID mints a lock-holder identity for "pragma ci-lock"/
// "ci-unlock", persisted on the session for reuse across rounds
// (mirrors the original's randomblob(20)-derived client-id).
func randomClientID() string {
	const alphabet = "0123456789abcdef"
	buf := make([]byte, 40)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(buf)
}
