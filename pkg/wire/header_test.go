package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		TotalLen:     HeaderLen + 4,
		FeatureFlags: 0x0102,
		CompatFlags:  3,
		Flags:        4,
		MagicPrefix:  MagicPrefix,
		MsgID:        MsgHeartbeat,
		TargetID:     7,
		UserID:       99,
		Seq:          123456789,
		SeqDone:      42,
	}

	buf := make([]byte, HeaderLen)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderLen-1))
	if err != ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	h := NewHeader(0, MsgAck, 0)
	h.MagicPrefix = 0xdeadbeef
	buf := make([]byte, HeaderLen)
	h.Encode(buf)

	_, err := DecodeHeader(buf)
	if err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestCStrRoundTrip(t *testing.T) {
	w := NewWriter(nil)
	w.CStr("hello")
	w.U16(7)

	r := NewReader(w.Bytes())
	s, err := r.CStr()
	if err != nil {
		t.Fatalf("decode cstr: %v", err)
	}
	if s != "hello" {
		t.Fatalf("got %q want hello", s)
	}
	n, err := r.U16()
	if err != nil || n != 7 {
		t.Fatalf("trailing field mismatch: %v %d", err, n)
	}
	if err := r.Done(); err != nil {
		t.Fatalf("expected fully consumed reader: %v", err)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	m := HeartbeatMsg{
		Kind:      NodeMeta,
		NumericID: 123,
		Alias:     "m",
		Port:      9000,
		NICs: []NIC{
			{Addr: [4]byte{127, 0, 0, 1}, Name: "eth0", Kind: 0},
		},
		Fingerprint: "fp-1",
		AckID:       "A",
	}
	w := NewWriter(nil)
	m.Encode(w)

	got, err := DecodeHeartbeat(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Alias != m.Alias || got.NumericID != m.NumericID || len(got.NICs) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.NICs[0].Name != "eth0" || got.NICs[0].Addr != m.NICs[0].Addr {
		t.Fatalf("nic mismatch: %+v", got.NICs[0])
	}
}

func TestSetMirrorBuddyGroupRespPadding(t *testing.T) {
	m := SetMirrorBuddyGroupRespMsg{Code: 0}
	w := NewWriter(nil)
	m.Encode(w)
	if w.Len() != 6 {
		t.Fatalf("expected 4 byte code + 2 padding bytes, got %d bytes", w.Len())
	}

	got, err := DecodeSetMirrorBuddyGroupResp(NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != 0 {
		t.Fatalf("got %+v", got)
	}
}
