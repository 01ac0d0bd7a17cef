package xfer

import (
	"fmt"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// LinkedRepo is one alternate repository advertised via a
// "pragma link URL ARG MTIME" card (§4.3 pragma row).
type LinkedRepo struct {
	URL   string
	Arg   string
	Mtime int64
}

// validateLinkURL checks that URL has a sane peer-address shape before
// it is recorded as a linked repo. Most links are plain http(s) URLs,
// but the same config surface doubles as a bootstrap list when an
// embedder runs xfer over a libp2p-style overlay address, so a
// multiaddr parse is tried first the way the teacher's
// parseBootnode/convertEnodeToMultiaddr helpers do, falling back to a
// bare scheme check for ordinary URLs.
func validateLinkURL(url string) error {
	if _, err := ma.NewMultiaddr(url); err == nil {
		return nil
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return nil
	}
	return fmt.Errorf("not a valid link URL: %q", url)
}

// parsePragmaLink validates and decodes a "pragma link" card's args
// into a LinkedRepo.
func parsePragmaLink(args []string) (LinkedRepo, error) {
	if len(args) != 3 {
		return LinkedRepo{}, newErr(KindMalformedCard, "pragma", "link wants 3 args, got %d", len(args))
	}
	url, arg, mtimeTok := args[0], args[1], args[2]
	if err := validateLinkURL(url); err != nil {
		return LinkedRepo{}, newErr(KindMalformedCard, "pragma", "%v", err)
	}
	mtime, err := strconv.ParseInt(mtimeTok, 10, 64)
	if err != nil {
		return LinkedRepo{}, newErr(KindMalformedCard, "pragma", "bad mtime: %q", mtimeTok)
	}
	return LinkedRepo{URL: url, Arg: arg, Mtime: mtime}, nil
}
