package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := Request{
		Action: ActionWrite,
		PaneID: "p1",
		Data:   "echo hello\r",
		KernelMeta: &KernelMeta{
			EventID: "w1",
		},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, req); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("encoded frame missing trailing newline: %q", buf.String())
	}

	fr := NewFrameReader(&buf)
	line, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	got, err := DecodeRequest(line)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got.Action != ActionWrite || got.PaneID != "p1" || got.EventID() != "w1" {
		t.Fatalf("DecodeRequest() = %+v, want action=write paneId=p1 eventId=w1", got)
	}
}

func TestFrameReaderSkipsBlankLines(t *testing.T) {
	r := strings.NewReader("\n\n{\"action\":\"ping\"}\n\n{\"action\":\"list\"}\n")
	fr := NewFrameReader(r)

	first, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() #1 error = %v", err)
	}
	if string(first) != `{"action":"ping"}` {
		t.Fatalf("ReadFrame() #1 = %q", first)
	}

	second, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() #2 error = %v", err)
	}
	if string(second) != `{"action":"list"}` {
		t.Fatalf("ReadFrame() #2 = %q", second)
	}

	if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFrame() #3 error = %v, want io.EOF", err)
	}
}

func TestFrameReaderToleratesUnterminatedFinalLine(t *testing.T) {
	r := strings.NewReader(`{"action":"ping"}`)
	fr := NewFrameReader(r)

	line, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(line) != `{"action":"ping"}` {
		t.Fatalf("ReadFrame() = %q", line)
	}
}

func TestDecodeRequestMalformedJSONIsLocalError(t *testing.T) {
	_, err := DecodeRequest([]byte(`{not json`))
	if err == nil {
		t.Fatal("DecodeRequest() error = nil, want error for malformed JSON")
	}
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Event:  EventAck,
		PaneID: "p1",
		Ack: &AckPayload{
			EventID: "w1",
			Status:  AckDeliveredVerified,
		},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, env); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	fr := NewFrameReader(&buf)
	line, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	got, err := DecodeEnvelope(line)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if got.Event != EventAck || got.Ack == nil || got.Ack.Status != AckDeliveredVerified {
		t.Fatalf("DecodeEnvelope() = %+v", got)
	}
}

func TestFrameTooLargeIsRejected(t *testing.T) {
	huge := strings.Repeat("a", maxFrameBytes+10)
	r := strings.NewReader(huge + "\n")
	fr := NewFrameReader(r)
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame() error = %v, want ErrFrameTooLarge", err)
	}
}
