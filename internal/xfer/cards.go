package xfer

import "strconv"

// Card is the tagged-variant model for one protocol line: parsing a
// card header is finished — including argument validation — before a
// single typed value is handed to a handler, instead of dispatching on
// a raw token array and re-checking nToken inside every handler
// (Design Notes: "eliminates the nToken==4 scattered checks").
type Card interface {
	Verb() string
}

type PullCard struct{ SCode, PCode string }

func (PullCard) Verb() string { return "pull" }

type PushCard struct{ SCode, PCode string }

func (PushCard) Verb() string { return "push" }

type CloneCard struct {
	Versioned bool
	V, Seq    int
}

func (CloneCard) Verb() string { return "clone" }

type LoginCard struct{ User, Nonce, Sig string }

func (LoginCard) Verb() string { return "login" }

type HaveCard struct {
	Hash    string
	Private bool
}

func (HaveCard) Verb() string { return "have" }

type IGotCard struct {
	Hash    string
	Private bool
}

func (IGotCard) Verb() string { return "igot" }

// HashRequestCard models both "ineed" and "gimme", which share arity
// and semantics (§4.3) and differ only in the verb they arrived as.
type HashRequestCard struct {
	VerbName string
	Hash     string
}

func (c HashRequestCard) Verb() string { return c.VerbName }

type FileCard struct {
	Hash      string
	HasDelta  bool
	DeltaSrc  string
	Size      int
	Payload   []byte
}

func (FileCard) Verb() string { return "file" }

type CFileCard struct {
	Hash     string
	HasDelta bool
	DeltaSrc string
	Size     int
	Codec    Codec
	Payload  []byte
}

func (CFileCard) Verb() string { return "cfile" }

type AtomCard struct {
	Hash             string
	Size, BOff, EOff int
	Payload          []byte
}

func (AtomCard) Verb() string { return "atom" }

type ConfigCard struct {
	Name    string
	Size    int
	Payload []byte
}

func (ConfigCard) Verb() string { return "config" }

type CookieCard struct{ Text string }

func (CookieCard) Verb() string { return "cookie" }

type PrivateCard struct{}

func (PrivateCard) Verb() string { return "private" }

type CloneSeqnoCard struct{ N int }

func (CloneSeqnoCard) Verb() string { return "clone_seqno" }

type MessageCard struct{ Text string }

func (MessageCard) Verb() string { return "message" }

type PragmaCard struct {
	Name string
	Args []string
}

func (PragmaCard) Verb() string { return "pragma" }

type ErrorCard struct{ Text string }

func (ErrorCard) Verb() string { return "error" }

// UvFileCard carries an unversioned (name-addressed, not hash-addressed)
// file; supplements the core grammar per SPEC_FULL's "uvfile" addition.
type UvFileCard struct {
	Name    string
	Mtime   int64
	Hash    string
	Size    int
	Payload []byte
}

func (UvFileCard) Verb() string { return "uvfile" }

type UnknownCard struct {
	VerbName string
	Tokens   []string
}

func (c UnknownCard) Verb() string { return c.VerbName }

func parseIntTok(tok, card string) (int, error) {
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, newErr(KindMalformedCard, card, "not an integer: %q", tok)
	}
	return int(n), nil
}

func parseNonNegIntTok(tok, card string) (int, error) {
	n, err := parseIntTok(tok, card)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, newErr(KindMalformedCard, card, "negative size: %q", tok)
	}
	return n, nil
}

func parseHashTok(tok, card string) (string, error) {
	if !isHexHash(tok) {
		return "", newErr(KindMalformedCard, card, "not a valid hash: %q", tok)
	}
	return tok, nil
}

// ParseCard turns one raw card line into a typed Card, pulling any
// trailing binary payload from f when the header names one. Grammar
// and arity come from §4.3/§4.4; violations fail as MalformedCard.
// Free-text cards (message, error, cookie) are split only on the verb
// boundary so embedded spaces in TEXT survive; every other card is
// tokenized in full via Tokenize.
func ParseCard(line []byte, f *Frame) (Card, error) {
	if len(line) == 0 {
		return nil, newErr(KindMalformedCard, "", "empty card")
	}
	verb, rest := splitVerb(line)

	switch verb {
	case "message":
		if len(rest) == 0 {
			return nil, newErr(KindMalformedCard, verb, "missing text")
		}
		return MessageCard{Text: string(rest)}, nil
	case "error":
		if len(rest) == 0 {
			return nil, newErr(KindMalformedCard, verb, "missing text")
		}
		return ErrorCard{Text: string(rest)}, nil
	case "cookie":
		if len(rest) == 0 {
			return nil, newErr(KindMalformedCard, verb, "missing text")
		}
		return CookieCard{Text: string(rest)}, nil
	}

	tokens := Tokenize(line)
	args := tokens[1:]

	switch verb {
	case "pull", "push":
		if len(args) != 2 {
			return nil, newErr(KindMalformedCard, verb, "want 2 args, got %d", len(args))
		}
		if verb == "pull" {
			return PullCard{SCode: args[0], PCode: args[1]}, nil
		}
		return PushCard{SCode: args[0], PCode: args[1]}, nil

	case "clone":
		switch len(args) {
		case 0:
			return CloneCard{Versioned: false}, nil
		case 2:
			v, err := parseNonNegIntTok(args[0], verb)
			if err != nil {
				return nil, err
			}
			seq, err := parseNonNegIntTok(args[1], verb)
			if err != nil {
				return nil, err
			}
			return CloneCard{Versioned: true, V: v, Seq: seq}, nil
		default:
			return nil, newErr(KindMalformedCard, verb, "want 0 or 2 args, got %d", len(args))
		}

	case "login":
		if len(args) != 3 {
			return nil, newErr(KindMalformedCard, verb, "want 3 args, got %d", len(args))
		}
		return LoginCard{User: args[0], Nonce: args[1], Sig: args[2]}, nil

	case "have":
		if len(args) != 1 && len(args) != 2 {
			return nil, newErr(KindMalformedCard, verb, "want 1 or 2 args, got %d", len(args))
		}
		hash, err := parseHashTok(args[0], verb)
		if err != nil {
			return nil, err
		}
		priv := len(args) == 2 && args[1] == "1"
		return HaveCard{Hash: hash, Private: priv}, nil

	case "igot":
		if len(args) != 1 && len(args) != 2 {
			return nil, newErr(KindMalformedCard, verb, "want 1 or 2 args, got %d", len(args))
		}
		hash, err := parseHashTok(args[0], verb)
		if err != nil {
			return nil, err
		}
		priv := len(args) == 2 && args[1] == "1"
		return IGotCard{Hash: hash, Private: priv}, nil

	case "ineed", "gimme":
		if len(args) != 1 {
			return nil, newErr(KindMalformedCard, verb, "want 1 arg, got %d", len(args))
		}
		hash, err := parseHashTok(args[0], verb)
		if err != nil {
			return nil, err
		}
		return HashRequestCard{VerbName: verb, Hash: hash}, nil

	case "file":
		var hash, deltaSrc string
		var size int
		var hasDelta bool
		var err error
		switch len(args) {
		case 2:
			if hash, err = parseHashTok(args[0], verb); err != nil {
				return nil, err
			}
			if size, err = parseNonNegIntTok(args[1], verb); err != nil {
				return nil, err
			}
		case 3:
			if hash, err = parseHashTok(args[0], verb); err != nil {
				return nil, err
			}
			if deltaSrc, err = parseHashTok(args[1], verb); err != nil {
				return nil, err
			}
			hasDelta = true
			if size, err = parseNonNegIntTok(args[2], verb); err != nil {
				return nil, err
			}
		default:
			return nil, newErr(KindMalformedCard, verb, "want 2 or 3 args, got %d", len(args))
		}
		payload, err := f.ExtractPayload(size)
		if err != nil {
			return nil, err
		}
		return FileCard{Hash: hash, HasDelta: hasDelta, DeltaSrc: deltaSrc, Size: size, Payload: payload}, nil

	case "cfile":
		var hash, deltaSrc string
		var size int
		var hasDelta bool
		var codecTok string
		var err error
		switch len(args) {
		case 3:
			if hash, err = parseHashTok(args[0], verb); err != nil {
				return nil, err
			}
			if size, err = parseNonNegIntTok(args[1], verb); err != nil {
				return nil, err
			}
			codecTok = args[2]
		case 4:
			if hash, err = parseHashTok(args[0], verb); err != nil {
				return nil, err
			}
			if deltaSrc, err = parseHashTok(args[1], verb); err != nil {
				return nil, err
			}
			hasDelta = true
			if size, err = parseNonNegIntTok(args[2], verb); err != nil {
				return nil, err
			}
			codecTok = args[3]
		default:
			return nil, newErr(KindMalformedCard, verb, "want 3 or 4 args, got %d", len(args))
		}
		payload, err := f.ExtractPayload(size)
		if err != nil {
			return nil, err
		}
		return CFileCard{Hash: hash, HasDelta: hasDelta, DeltaSrc: deltaSrc, Size: size, Codec: Codec(codecTok), Payload: payload}, nil

	case "atom":
		if len(args) != 4 {
			return nil, newErr(KindMalformedCard, verb, "want 4 args, got %d", len(args))
		}
		hash, err := parseHashTok(args[0], verb)
		if err != nil {
			return nil, err
		}
		size, err := parseNonNegIntTok(args[1], verb)
		if err != nil {
			return nil, err
		}
		boff, err := parseNonNegIntTok(args[2], verb)
		if err != nil {
			return nil, err
		}
		eoff, err := parseNonNegIntTok(args[3], verb)
		if err != nil {
			return nil, err
		}
		if eoff < boff || eoff > size {
			return nil, newErr(KindMalformedCard, verb, "bad offsets: boff=%d eoff=%d size=%d", boff, eoff, size)
		}
		payload, err := f.ExtractPayload(eoff - boff)
		if err != nil {
			return nil, err
		}
		return AtomCard{Hash: hash, Size: size, BOff: boff, EOff: eoff, Payload: payload}, nil

	case "config":
		if len(args) != 2 {
			return nil, newErr(KindMalformedCard, verb, "want 2 args, got %d", len(args))
		}
		size, err := parseNonNegIntTok(args[1], verb)
		if err != nil {
			return nil, err
		}
		payload, err := f.ExtractPayload(size)
		if err != nil {
			return nil, err
		}
		return ConfigCard{Name: args[0], Size: size, Payload: payload}, nil

	case "uvfile":
		if len(args) != 4 {
			return nil, newErr(KindMalformedCard, verb, "want 4 args, got %d", len(args))
		}
		mtime, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, newErr(KindMalformedCard, verb, "bad mtime: %q", args[1])
		}
		hash, err := parseHashTok(args[2], verb)
		if err != nil {
			return nil, err
		}
		size, err := parseNonNegIntTok(args[3], verb)
		if err != nil {
			return nil, err
		}
		payload, err := f.ExtractPayload(size)
		if err != nil {
			return nil, err
		}
		return UvFileCard{Name: args[0], Mtime: mtime, Hash: hash, Size: size, Payload: payload}, nil

	case "private":
		if len(args) != 0 {
			return nil, newErr(KindMalformedCard, verb, "want 0 args, got %d", len(args))
		}
		return PrivateCard{}, nil

	case "clone_seqno":
		if len(args) != 1 {
			return nil, newErr(KindMalformedCard, verb, "want 1 arg, got %d", len(args))
		}
		n, err := parseNonNegIntTok(args[0], verb)
		if err != nil {
			return nil, err
		}
		return CloneSeqnoCard{N: n}, nil

	case "pragma":
		if len(args) < 1 {
			return nil, newErr(KindMalformedCard, verb, "want at least 1 arg, got %d", len(args))
		}
		return PragmaCard{Name: args[0], Args: args[1:]}, nil

	default:
		return UnknownCard{VerbName: verb, Tokens: tokens}, nil
	}
}
