package wire

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	buf := Serialize(KindData, payload)

	kind, got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if kind != KindData {
		t.Errorf("kind = %v, want %v", kind, KindData)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestFrameCRCMismatchOnBitFlip(t *testing.T) {
	buf := Serialize(KindAck, []byte{9, 9, 9})
	for i := range buf {
		corrupted := append([]byte(nil), buf...)
		corrupted[i] ^= 0x01
		if _, _, err := Parse(corrupted); err == nil {
			t.Errorf("bit flip at byte %d: expected crc error, got none", i)
		}
	}
}

func TestFrameTruncationFails(t *testing.T) {
	buf := Serialize(KindSync, []byte{1, 2, 3})
	for n := 0; n < len(buf); n++ {
		if _, _, err := Parse(buf[:n]); err == nil {
			t.Errorf("truncation to %d bytes: expected error, got none", n)
		}
	}
}

func TestFrameTrailingBytesFail(t *testing.T) {
	buf := Serialize(KindDisconnect, []byte{7})
	withTrailer := append(buf, 0xFF)
	// Parse doesn't know the expected length ahead of time for variable
	// payloads, but appended bytes break the CRC computed over the
	// original body, so a trailing byte corrupts everything after it.
	if _, _, err := Parse(withTrailer); err == nil {
		t.Error("expected error when bytes are appended after a serialized frame")
	}
}

func TestFrameUnknownKindRejected(t *testing.T) {
	buf := Serialize(Kind(99), nil)
	if _, _, err := Parse(buf); err == nil {
		t.Error("expected error for unknown frame kind")
	}
}
