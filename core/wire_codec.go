package core

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// MsgKind tags the closed set of wire message variants. Dispatch pattern-
// matches on this tag rather than using open polymorphism (design notes).
type MsgKind uint8

const (
	KindServiceMsg      MsgKind = 0x01
	KindNodeMsg         MsgKind = 0x02
	KindBlsShareMsg     MsgKind = 0x03
	KindSectionMsg      MsgKind = 0x04
	KindServiceAuthMsg  MsgKind = 0x05
)

const wireMagic uint16 = 0x5345 // "SE"
const wireVersion uint8 = 1

// SrcAuth identifies and authenticates the sender of a WireMsg.
type SrcAuth struct {
	Algo      KeyAlgo
	NodeName  NodeName // zero value when Algo == AlgoBLS share (elder index used instead)
	ElderIdx  int      // valid when Kind == KindBlsShareMsg
	PublicKey []byte   // raw public key or compressed BLS pubkey, as appropriate
}

// DstLocation names where a WireMsg is addressed and which section key the
// sender believed was current when it was sent.
type DstLocation struct {
	Name      NodeName
	Prefix    Prefix
	SectionPK []byte // compressed BLS public key the sender believes is current
}

// WireMsg is the in-memory form of a parsed/constructed wire frame.
type WireMsg struct {
	MsgID     [16]byte
	Kind      MsgKind
	Src       SrcAuth
	Dst       DstLocation
	Payload   []byte
	Signature []byte
}

// NewMsgID generates a fresh random message id.
func NewMsgID() [16]byte {
	u := uuid.New()
	var id [16]byte
	copy(id[:], u[:])
	return id
}

// signingMaterial is what Signature is computed over: the payload bytes
// concatenated with the destination location, so a signature cannot be
// replayed against a different destination.
func signingMaterial(dst DstLocation, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+64)
	buf = append(buf, dst.Name[:]...)
	buf = append(buf, byte(dst.Prefix.BitLen>>8), byte(dst.Prefix.BitLen))
	buf = append(buf, dst.Prefix.Bits[:]...)
	buf = append(buf, dst.SectionPK...)
	buf = append(buf, payload...)
	return buf
}

// Sign computes and attaches m.Signature using the given signing algorithm
// and key, per the src auth kind carried by m.
func (m *WireMsg) Sign(algo KeyAlgo, priv interface{}) error {
	sig, err := Sign(algo, priv, signingMaterial(m.Dst, m.Payload))
	if err != nil {
		return fmt.Errorf("sign wire msg: %w", err)
	}
	m.Signature = sig
	m.Src.Algo = algo
	return nil
}

// VerifySingle verifies m against a single known public key — used for
// NodeMsg(single) and ServiceMsg authority.
func (m *WireMsg) VerifySingle(pub interface{}) (bool, error) {
	return Verify(m.Src.Algo, pub, signingMaterial(m.Dst, m.Payload), m.Signature)
}

// VerifyShare verifies a single BLS share against the elder's share public
// key, for KindBlsShareMsg frames.
func (m *WireMsg) VerifyShare(sharePub bls12PublicKeyLike) (bool, error) {
	return Verify(AlgoBLS, sharePub, signingMaterial(m.Dst, m.Payload), m.Signature)
}

// VerifyAggregate verifies a SectionMsg's combined signature against the
// aggregated section public key.
func (m *WireMsg) VerifyAggregate(sectionPub []byte) (bool, error) {
	ok, err := VerifyAggregated(m.Signature, sectionPub, signingMaterial(m.Dst, m.Payload))
	return ok, err
}

// bls12PublicKeyLike exists only so callers can pass either *bls.PublicKey
// or a compressed []byte without importing the bls package here directly.
type bls12PublicKeyLike = interface{}

// Encode serialises a WireMsg to the bit-exact wire format:
//
//	[2B magic][1B version][16B msg_id][1B kind][variable src_auth]
//	[variable dst_location][4B payload_len][payload_len B payload]
//	[variable signature]
//
// All integers big-endian. src_auth, dst_location and signature are each
// length-prefixed with a 2-byte big-endian length so the frame is
// self-describing without a fixed schema per kind.
func (m *WireMsg) Encode() ([]byte, error) {
	srcBytes := encodeSrcAuth(m.Src)
	dstBytes := encodeDstLocation(m.Dst)

	total := 2 + 1 + 16 + 1 +
		2 + len(srcBytes) +
		2 + len(dstBytes) +
		4 + len(m.Payload) +
		2 + len(m.Signature)
	buf := make([]byte, 0, total)

	var tmp2 [2]byte
	var tmp4 [4]byte

	binary.BigEndian.PutUint16(tmp2[:], wireMagic)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, wireVersion)
	buf = append(buf, m.MsgID[:]...)
	buf = append(buf, byte(m.Kind))

	binary.BigEndian.PutUint16(tmp2[:], uint16(len(srcBytes)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, srcBytes...)

	binary.BigEndian.PutUint16(tmp2[:], uint16(len(dstBytes)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, dstBytes...)

	binary.BigEndian.PutUint32(tmp4[:], uint32(len(m.Payload)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, m.Payload...)

	binary.BigEndian.PutUint16(tmp2[:], uint16(len(m.Signature)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, m.Signature...)

	return buf, nil
}

// ParseWireMsg parses a frame previously produced by Encode. Returns
// ErrMalformedMessage (wrapped in a Protocol CoreError) on any structural
// inconsistency, never partial results.
func ParseWireMsg(raw []byte) (*WireMsg, error) {
	const op = "wire_codec.Parse"
	r := &reader{buf: raw}

	magic, err := r.u16()
	if err != nil || magic != wireMagic {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	version, err := r.u8()
	if err != nil || version != wireVersion {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	var msgID [16]byte
	idBytes, err := r.n(16)
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	copy(msgID[:], idBytes)

	kindByte, err := r.u8()
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}

	srcLen, err := r.u16()
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	srcBytes, err := r.n(int(srcLen))
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	src, err := decodeSrcAuth(srcBytes)
	if err != nil {
		return nil, newErr(KindProtocol, op, err)
	}

	dstLen, err := r.u16()
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	dstBytes, err := r.n(int(dstLen))
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	dst, err := decodeDstLocation(dstBytes)
	if err != nil {
		return nil, newErr(KindProtocol, op, err)
	}

	payloadLen, err := r.u32()
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	payload, err := r.n(int(payloadLen))
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}

	sigLen, err := r.u16()
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}
	sig, err := r.n(int(sigLen))
	if err != nil {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}

	if !r.atEnd() {
		return nil, newErr(KindProtocol, op, ErrMalformedMessage)
	}

	return &WireMsg{
		MsgID:     msgID,
		Kind:      MsgKind(kindByte),
		Src:       src,
		Dst:       dst,
		Payload:   payload,
		Signature: sig,
	}, nil
}

func encodeSrcAuth(s SrcAuth) []byte {
	buf := make([]byte, 0, 1+32+4+2+len(s.PublicKey))
	buf = append(buf, byte(s.Algo))
	buf = append(buf, s.NodeName[:]...)
	var idx4 [4]byte
	binary.BigEndian.PutUint32(idx4[:], uint32(s.ElderIdx))
	buf = append(buf, idx4[:]...)
	var pkLen [2]byte
	binary.BigEndian.PutUint16(pkLen[:], uint16(len(s.PublicKey)))
	buf = append(buf, pkLen[:]...)
	buf = append(buf, s.PublicKey...)
	return buf
}

func decodeSrcAuth(b []byte) (SrcAuth, error) {
	r := &reader{buf: b}
	algo, err := r.u8()
	if err != nil {
		return SrcAuth{}, ErrMalformedMessage
	}
	nameBytes, err := r.n(32)
	if err != nil {
		return SrcAuth{}, ErrMalformedMessage
	}
	idx, err := r.u32()
	if err != nil {
		return SrcAuth{}, ErrMalformedMessage
	}
	pkLen, err := r.u16()
	if err != nil {
		return SrcAuth{}, ErrMalformedMessage
	}
	pk, err := r.n(int(pkLen))
	if err != nil {
		return SrcAuth{}, ErrMalformedMessage
	}
	if !r.atEnd() {
		return SrcAuth{}, ErrMalformedMessage
	}
	var name NodeName
	copy(name[:], nameBytes)
	return SrcAuth{Algo: KeyAlgo(algo), NodeName: name, ElderIdx: int(idx), PublicKey: pk}, nil
}

func encodeDstLocation(d DstLocation) []byte {
	buf := make([]byte, 0, 32+2+32+2+len(d.SectionPK))
	buf = append(buf, d.Name[:]...)
	var bitLen [2]byte
	binary.BigEndian.PutUint16(bitLen[:], d.Prefix.BitLen)
	buf = append(buf, bitLen[:]...)
	buf = append(buf, d.Prefix.Bits[:]...)
	var pkLen [2]byte
	binary.BigEndian.PutUint16(pkLen[:], uint16(len(d.SectionPK)))
	buf = append(buf, pkLen[:]...)
	buf = append(buf, d.SectionPK...)
	return buf
}

func decodeDstLocation(b []byte) (DstLocation, error) {
	r := &reader{buf: b}
	nameBytes, err := r.n(32)
	if err != nil {
		return DstLocation{}, ErrMalformedMessage
	}
	bitLen, err := r.u16()
	if err != nil {
		return DstLocation{}, ErrMalformedMessage
	}
	bitsBytes, err := r.n(32)
	if err != nil {
		return DstLocation{}, ErrMalformedMessage
	}
	pkLen, err := r.u16()
	if err != nil {
		return DstLocation{}, ErrMalformedMessage
	}
	pk, err := r.n(int(pkLen))
	if err != nil {
		return DstLocation{}, ErrMalformedMessage
	}
	if !r.atEnd() {
		return DstLocation{}, ErrMalformedMessage
	}
	var name NodeName
	copy(name[:], nameBytes)
	var prefix Prefix
	prefix.BitLen = bitLen
	copy(prefix.Bits[:], bitsBytes)
	return DstLocation{Name: name, Prefix: prefix, SectionPK: pk}, nil
}

// reader is a minimal bounds-checked cursor over a byte slice, used to keep
// Parse free of manual offset arithmetic and its off-by-one risks.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrMalformedMessage
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, ErrMalformedMessage
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrMalformedMessage
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) n(count int) ([]byte, error) {
	if count < 0 || r.pos+count > len(r.buf) {
		return nil, ErrMalformedMessage
	}
	v := r.buf[r.pos : r.pos+count]
	r.pos += count
	return v, nil
}

func (r *reader) atEnd() bool { return r.pos == len(r.buf) }
