package xfer

import (
	"bytes"
	"testing"
)

func TestNextCardLineSkipsBlanksAndFlagsComments(t *testing.T) {
	buf := []byte("pull S P\n\n# timestamp 2026-01-01T00:00:00Z errors 0\nhave aa\n")
	f := NewFrame(buf)

	line, isComment, ok := f.NextCardLine()
	if !ok || isComment || string(line) != "pull S P" {
		t.Fatalf("got %q comment=%v ok=%v", line, isComment, ok)
	}

	line, isComment, ok = f.NextCardLine()
	if !ok || !isComment {
		t.Fatalf("expected comment line, got %q comment=%v", line, isComment)
	}

	line, isComment, ok = f.NextCardLine()
	if !ok || isComment || string(line) != "have aa" {
		t.Fatalf("got %q comment=%v ok=%v", line, isComment, ok)
	}

	if _, _, ok = f.NextCardLine(); ok {
		t.Fatalf("expected exhausted frame")
	}
}

func TestExtractPayloadRoundTrip(t *testing.T) {
	buf := []byte("file aa 5\nhello\nnext")
	f := NewFrame(buf)
	line, _, ok := f.NextCardLine()
	if !ok || string(line) != "file aa 5" {
		t.Fatalf("unexpected header %q", line)
	}
	payload, err := f.ExtractPayload(5)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("payload = %q", payload)
	}
	rest, ok := f.NextLine()
	if !ok || string(rest) != "next" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestExtractPayloadTruncated(t *testing.T) {
	f := NewFrame([]byte("file aa 10\nshort\n"))
	f.NextCardLine()
	if _, err := f.ExtractPayload(10); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestTokenizePreservesTrailingRemainder(t *testing.T) {
	tokens := Tokenize([]byte("pragma ci-lock-fail alice 12345 extra stuff here"))
	if len(tokens) != maxCardTokens {
		t.Fatalf("got %d tokens: %v", len(tokens), tokens)
	}
	if tokens[len(tokens)-1] != "stuff here" {
		t.Fatalf("remainder not preserved: %q", tokens[len(tokens)-1])
	}
}

func TestSplitVerbKeepsEmbeddedSpaces(t *testing.T) {
	verb, rest := splitVerb([]byte("message pull only: no write capability"))
	if verb != "message" {
		t.Fatalf("verb = %q", verb)
	}
	if string(rest) != "pull only: no write capability" {
		t.Fatalf("rest = %q", rest)
	}
}
