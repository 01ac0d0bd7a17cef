package xfer

import (
	"net/http"
	"strings"
	"testing"
)

func newTestServerSession() (*Server, *Session) {
	store := NewMemStore()
	sess := NewSession(store, NewMapConfig(), nil)
	sess.Caps = CapRead | CapWrite | CapClone
	return NewServer(nil, nil), sess
}

// scenario 1 (§8): empty pull against a server holding one artifact.
func TestServerHandleEmptyPull(t *testing.T) {
	srv, sess := newTestServerSession()
	content := []byte("hello")
	hash := SHA1Hex(content)
	sess.Store.(*MemStore).ContentPut(content, hash, 0, false)

	reply, err := srv.Handle(sess, http.MethodPost, []byte("pull S P\n"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out := string(reply)
	if !strings.Contains(out, "have "+hash) {
		t.Fatalf("expected have card announcing server's artifact, got:\n%s", out)
	}
	if !strings.Contains(out, "errors 0") {
		t.Fatalf("expected errors 0 trailer, got:\n%s", out)
	}
}

// scenario 2 (§8): pushing an artifact the server already has must not
// re-store it or request it again.
func TestServerHandlePushDuplicateSuppressed(t *testing.T) {
	srv, sess := newTestServerSession()
	content := []byte("hello")
	hash := SHA1Hex(content)
	sess.Store.(*MemStore).ContentPut(content, hash, 0, false)

	msg := "push S P\nhave " + hash + "\nfile " + hash + " 5\nhello\n"
	reply, err := srv.Handle(sess, http.MethodPost, []byte(msg))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out := string(reply)
	if strings.Contains(out, "gimme "+hash) {
		t.Fatalf("should not request a hash the server already has: %s", out)
	}
	if !strings.Contains(out, "errors 0") {
		t.Fatalf("expected errors 0, got:\n%s", out)
	}
}

// scenario 3 (§8): hash mismatch rolls back and reports exactly one error.
func TestServerHandleHashMismatchResetsOutbound(t *testing.T) {
	srv, sess := newTestServerSession()
	hash := SHA1Hex([]byte("hello"))
	msg := "push S P\nfile " + hash + " 5\nworld\n"

	reply, err := srv.Handle(sess, http.MethodPost, []byte(msg))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out := string(reply)
	if !strings.Contains(out, "error wrong hash on received artifact: "+hash) {
		t.Fatalf("expected hash mismatch error, got:\n%s", out)
	}
	if !strings.Contains(out, "errors 1") {
		t.Fatalf("expected errors 1, got:\n%s", out)
	}
	if sess.Store.(*MemStore).has(hash, []byte("world")) {
		t.Fatalf("mismatched content must not be stored")
	}
}

// scenario 4 (§8): a bad login signature must fail without granting
// capabilities.
func TestServerHandleLoginFailure(t *testing.T) {
	srv, sess := newTestServerSession()
	auth := NewMapAuthenticator()
	auth.AddUser("alice", "hunter2", CapRead|CapWrite)
	srv.Auth = auth
	sess.Caps = 0

	tail := "\n"
	tailHash := SHA1Hex([]byte(tail))
	msg := "login alice " + tailHash + " badsig\n" + tail

	reply, err := srv.Handle(sess, http.MethodPost, []byte(msg))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(string(reply), "error login failed") {
		t.Fatalf("expected login failed error, got:\n%s", reply)
	}
	if sess.Caps != 0 {
		t.Fatalf("capabilities must not change on failed login")
	}
}

func TestServerHandleRejectsNonPost(t *testing.T) {
	srv, sess := newTestServerSession()
	if _, err := srv.Handle(sess, http.MethodGet, []byte("pull S P\n")); err == nil {
		t.Fatalf("expected rejection of non-POST method")
	}
}
