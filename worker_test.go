package supervisor

import "testing"

func TestEncodeDecodeDispatchPayload(t *testing.T) {
	payload := encodeDispatchPayload("mailer", "/run/mailer.sock", "/run/mailer.status")

	name, sock, status, ok := decodeDispatchPayload(payload)
	if !ok {
		t.Fatal("decodeDispatchPayload reported failure on a well-formed payload")
	}
	if name != "mailer" || sock != "/run/mailer.sock" || status != "/run/mailer.status" {
		t.Fatalf("got (%q, %q, %q)", name, sock, status)
	}
}

func TestDecodeDispatchPayloadRejectsMalformed(t *testing.T) {
	if _, _, _, ok := decodeDispatchPayload([]byte("only-one-field")); ok {
		t.Fatal("expected decode failure for a payload missing fields")
	}
}
