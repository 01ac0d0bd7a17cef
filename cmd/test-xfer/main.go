// cmd/test-xfer/main.go
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/corpus-core/xfersync/internal/xfer"
)

// test-xfer is the black-box test vector hook named in §6: it feeds a
// raw xfer message file through one server round and writes the raw
// reply, with no HTTP transport involved.
func main() {
	var inPath, outPath string
	var anonOnly bool
	flag.StringVar(&inPath, "in", "", "path to a raw inbound xfer message")
	flag.StringVar(&outPath, "out", "", "path to write the raw reply (default stdout)")
	flag.BoolVar(&anonOnly, "anon", true, "register no users, so only anonymous logins succeed")
	flag.Parse()

	if inPath == "" {
		log.Fatalf("missing -in")
	}
	body, err := os.ReadFile(inPath)
	if err != nil {
		log.Fatalf("read %s: %v", inPath, err)
	}

	store := xfer.NewMemStore()
	cfg := xfer.NewMapConfig()
	auth := xfer.NewMapAuthenticator()
	if !anonOnly {
		auth.AddUser("alice", "secret", xfer.CapRead|xfer.CapWrite|xfer.CapClone)
	}

	sess := xfer.NewSession(store, cfg, log.Default())
	sess.Caps = xfer.CapRead | xfer.CapClone

	srv := xfer.NewServer(auth, nil)
	reply, err := srv.Handle(sess, http.MethodPost, body)
	if err != nil {
		log.Fatalf("handle: %v", err)
	}

	if outPath == "" {
		os.Stdout.Write(reply)
		return
	}
	if err := os.WriteFile(outPath, reply, 0o644); err != nil {
		log.Fatalf("write %s: %v", outPath, err)
	}
}
