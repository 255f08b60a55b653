package message

import "testing"

func TestDigestDeterministic(t *testing.T) {
	a := Digest("set x=1")
	b := Digest("set x=1")
	if a != b {
		t.Fatalf("digest not deterministic: %q vs %q", a, b)
	}
	if Digest("set x=1") == Digest("set x=2") {
		t.Fatalf("different operations produced the same digest")
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	m := Message{Kind: KindPrepare, View: 3, Seq: 7, Digest: "abc", SenderID: 2}
	a, err := Canonical(m)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := Canonical(m)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical encoding not deterministic: %q vs %q", a, b)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sm, err := Sign(priv, 1, Message{Kind: KindCommit, View: 1, Seq: 1, Digest: "d"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	frame := Frame{Signed: &sm}

	b, err := EncodeFrame(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Signed == nil {
		t.Fatalf("decoded frame lost its Signed message")
	}
	if !Verify(pub, *got.Signed) {
		t.Fatalf("signature did not survive the round trip")
	}
	if got.Signed.Inner.Digest != "d" {
		t.Fatalf("digest did not survive the round trip: %q", got.Signed.Inner.Digest)
	}
}
