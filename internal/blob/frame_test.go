package blob

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := fetchResponse{Found: true, Size: 12345}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
	var out fetchResponse
	if err := ReadFrame(&buf, &out); err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
	buf.Write(lenBuf[:])

	var out fetchResponse
	if err := ReadFrame(&buf, &out); err == nil {
		t.Fatalf("expected error for oversized frame")
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	var out fetchResponse
	if err := ReadFrame(buf, &out); err == nil {
		t.Fatalf("expected error for zero-length frame")
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.Write([]byte("short"))

	var out fetchResponse
	if err := ReadFrame(&buf, &out); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}
