package whatsapp

import (
	"context"
	"testing"
)

func TestOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("/var/lib/nursetalk/whatsmeow.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)

	if opts.DBDSN != "/var/lib/nursetalk/whatsmeow.db" {
		t.Errorf("WithDBDSN not applied, got %q", opts.DBDSN)
	}
	if opts.QRPath != "/tmp/qr.txt" {
		t.Errorf("WithQRCodeOutput not applied, got %q", opts.QRPath)
	}
	if !opts.NumericCode {
		t.Error("WithNumericCode not applied")
	}
}

func TestMockClientRecordsMessages(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	if err := mock.SendMessage(ctx, "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := mock.SendAudioMessage(ctx, "15551234567", []byte{0x4f, 0x67, 0x67}, "audio/ogg"); err != nil {
		t.Fatalf("SendAudioMessage failed: %v", err)
	}

	if len(mock.TextMessages) != 1 || mock.TextMessages[0] != "hello" {
		t.Errorf("expected recorded text message, got %v", mock.TextMessages)
	}
	if len(mock.AudioMessages) != 1 || len(mock.AudioMessages[0]) != 3 {
		t.Errorf("expected recorded audio payload, got %v", mock.AudioMessages)
	}
}
