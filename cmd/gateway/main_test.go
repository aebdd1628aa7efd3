package main

import "testing"

func TestRunReturnsConfigErrorOnBadCipherKey(t *testing.T) {
	t.Setenv("INFERSWITCH_KEY_ENC_MASTER_B64", "not-valid-base64!!")
	t.Setenv("INFERSWITCH_PORT", "0")

	if code := run(); code != exitConfigError {
		t.Fatalf("run() = %d, want %d", code, exitConfigError)
	}
}

func TestListenFailsOnAlreadyBoundAddress(t *testing.T) {
	ln, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("first listen: %v", err)
	}
	defer ln.Close()

	if _, err := listen(ln.Addr().String()); err == nil {
		t.Fatalf("expected second listen on %s to fail", ln.Addr())
	}
}
