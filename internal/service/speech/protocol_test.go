package speech

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("test payload data")
	original := NewFullClientRequest(payload, GzipCompression)

	decoded, err := DecodeFrame(original.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	if decoded.Header.Type != FullClientRequest {
		t.Errorf("type = %v, want FullClientRequest", decoded.Header.Type)
	}
	if decoded.Header.Compression != GzipCompression || decoded.Header.Serialization != JSONSerialization {
		t.Errorf("unexpected header: %+v", decoded.Header)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("payload = %q, want %q", decoded.Payload, payload)
	}
}

func TestAudioFrameSequence(t *testing.T) {
	cases := []struct {
		name     string
		sequence int32
		last     bool
		wantSeq  int32
		wantLast bool
	}{
		{name: "middle chunk", sequence: 3, wantSeq: 3},
		{name: "last chunk", sequence: 4, last: true, wantSeq: -4, wantLast: true},
		{name: "last without sequence", sequence: 0, last: true, wantSeq: 0, wantLast: true},
	}

	for _, tc := range cases {
		frame := NewAudioFrame([]byte{1, 2, 3}, tc.sequence, tc.last, NoCompression)
		decoded, err := DecodeFrame(frame.Encode())
		if err != nil {
			t.Fatalf("%s: DecodeFrame: %v", tc.name, err)
		}
		if decoded.Sequence != tc.wantSeq {
			t.Errorf("%s: sequence = %d, want %d", tc.name, decoded.Sequence, tc.wantSeq)
		}
		if decoded.IsLast() != tc.wantLast {
			t.Errorf("%s: IsLast = %v, want %v", tc.name, decoded.IsLast(), tc.wantLast)
		}
	}
}

func TestEventFrameRoundTrip(t *testing.T) {
	frame := newFrame(FullServerResponse, WithEvent, JSONSerialization, NoCompression, []byte(`{}`))
	frame.Event = EventTypeSessionFinished
	frame.SessionID = "session-1"

	decoded, err := DecodeFrame(frame.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.Event != EventTypeSessionFinished || decoded.SessionID != "session-1" {
		t.Errorf("unexpected event metadata: %+v", decoded)
	}

	connFrame := newFrame(FullServerResponse, WithEvent, JSONSerialization, NoCompression, nil)
	connFrame.Event = EventTypeConnectionStarted
	connFrame.ConnectID = "conn-1"

	decoded, err = DecodeFrame(connFrame.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.ConnectID != "conn-1" || decoded.SessionID != "" {
		t.Errorf("unexpected connection metadata: %+v", decoded)
	}
}

func TestErrorFrameCarriesCode(t *testing.T) {
	frame := newFrame(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression, []byte("quota exceeded"))
	frame.ErrorCode = 45000000

	decoded, err := DecodeFrame(frame.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.ErrorCode != 45000000 || string(decoded.Payload) != "quota exceeded" {
		t.Errorf("unexpected error frame: %+v", decoded)
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x11}); err == nil {
		t.Error("short header should fail")
	}
	if _, err := DecodeFrame([]byte{0x21, 0x10, 0x10, 0x00, 0, 0, 0, 0}); err == nil {
		t.Error("unknown protocol version should fail")
	}
	if _, err := DecodeFrame([]byte{0x11, 0x10, 0x10, 0x00, 0, 0, 0, 9, 'x'}); err == nil {
		t.Error("truncated payload should fail")
	}
}

func TestCompression(t *testing.T) {
	data := []byte("This is a test string for compression testing. " +
		"Repeat: This is a test string for compression testing.")

	compressed, err := Compress(data, GzipCompression)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	restored, err := Decompress(compressed, GzipCompression)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("decompressed data does not match original")
	}

	if _, err := Compress(data, CompressionMethod(0b1111)); err == nil {
		t.Error("unknown compression method should fail")
	}
}

func BenchmarkFrameRoundTrip(b *testing.B) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	frame := NewFullClientRequest(payload, NoCompression)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeFrame(frame.Encode())
	}
}
