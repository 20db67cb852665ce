package core

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func TestWireMsgEncodeParseRoundTrip(t *testing.T) {
	msg := &WireMsg{
		MsgID: NewMsgID(),
		Kind:  KindServiceMsg,
		Src: SrcAuth{
			Algo:      AlgoEd25519,
			NodeName:  NodeName{0x01},
			PublicKey: []byte{0xAA, 0xBB},
		},
		Dst: DstLocation{
			Name:      NodeName{0x02},
			Prefix:    NewPrefix(4, NodeName{0x20}),
			SectionPK: []byte{0xCC, 0xDD, 0xEE},
		},
		Payload:   []byte("hello wire"),
		Signature: []byte{0x01, 0x02, 0x03},
	}

	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := ParseWireMsg(raw)
	if err != nil {
		t.Fatalf("ParseWireMsg: %v", err)
	}

	if parsed.MsgID != msg.MsgID || parsed.Kind != msg.Kind {
		t.Fatalf("msg id/kind mismatch: %+v vs %+v", parsed, msg)
	}
	if parsed.Src.Algo != msg.Src.Algo || parsed.Src.NodeName != msg.Src.NodeName {
		t.Fatalf("src mismatch: %+v vs %+v", parsed.Src, msg.Src)
	}
	if !bytes.Equal(parsed.Src.PublicKey, msg.Src.PublicKey) {
		t.Fatalf("src pubkey mismatch")
	}
	if parsed.Dst.Name != msg.Dst.Name || parsed.Dst.Prefix != msg.Dst.Prefix {
		t.Fatalf("dst mismatch: %+v vs %+v", parsed.Dst, msg.Dst)
	}
	if !bytes.Equal(parsed.Dst.SectionPK, msg.Dst.SectionPK) {
		t.Fatalf("dst section pk mismatch")
	}
	if !bytes.Equal(parsed.Payload, msg.Payload) {
		t.Fatalf("payload mismatch")
	}
	if !bytes.Equal(parsed.Signature, msg.Signature) {
		t.Fatalf("signature mismatch")
	}
}

func TestParseWireMsgRejectsBadMagic(t *testing.T) {
	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindNodeMsg}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw[0] ^= 0xFF

	if _, err := ParseWireMsg(raw); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestParseWireMsgRejectsTruncatedFrame(t *testing.T) {
	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindNodeMsg, Payload: []byte("truncate me")}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := ParseWireMsg(raw[:len(raw)-3]); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestParseWireMsgRejectsTrailingBytes(t *testing.T) {
	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindNodeMsg}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw = append(raw, 0x00)

	if _, err := ParseWireMsg(raw); err == nil {
		t.Fatalf("expected error for trailing bytes")
	}
}

func TestWireMsgSignAndVerifySingleEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	msg := &WireMsg{
		MsgID:   NewMsgID(),
		Kind:    KindServiceMsg,
		Dst:     DstLocation{Name: NodeName{0x03}},
		Payload: []byte("signed payload"),
	}
	if err := msg.Sign(AlgoEd25519, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := msg.VerifySingle(pub)
	if err != nil {
		t.Fatalf("VerifySingle: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}

	msg.Payload = []byte("tampered payload")
	ok, err = msg.VerifySingle(pub)
	if err != nil {
		t.Fatalf("VerifySingle after tamper: %v", err)
	}
	if ok {
		t.Fatalf("expected signature verification to fail after payload tamper")
	}
}

func TestWireMsgVerifyShareAndAggregate(t *testing.T) {
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	pub := sk.GetPublicKey()

	msg := &WireMsg{
		MsgID:   NewMsgID(),
		Kind:    KindBlsShareMsg,
		Dst:     DstLocation{Name: NodeName{0x04}},
		Payload: []byte("share payload"),
	}
	if err := msg.Sign(AlgoBLS, &sk); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := msg.VerifyShare(pub)
	if err != nil {
		t.Fatalf("VerifyShare: %v", err)
	}
	if !ok {
		t.Fatalf("expected share signature to verify")
	}

	ok, err = msg.VerifyAggregate(pub.Serialize())
	if err != nil {
		t.Fatalf("VerifyAggregate: %v", err)
	}
	if !ok {
		t.Fatalf("expected aggregate verification against the same single key to succeed")
	}
}
