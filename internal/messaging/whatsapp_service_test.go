package messaging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Smoke-IT/NurseTalk/internal/whatsapp"
)

func TestWhatsAppServiceSendMessageEmitsReceipt(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.TextMessages) != 1 || mock.TextMessages[0] != "hello" {
		t.Errorf("unexpected sent messages: %v", mock.TextMessages)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551234567" {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	default:
		t.Error("expected a sent receipt")
	}
}

func TestWhatsAppServiceSendMediaMessageReadsClip(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("mp3-bytes"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := svc.SendMediaMessage(context.Background(), "15551234567", "", path); err != nil {
		t.Fatalf("SendMediaMessage failed: %v", err)
	}
	if len(mock.AudioMessages) != 1 || string(mock.AudioMessages[0]) != "mp3-bytes" {
		t.Errorf("unexpected audio payloads: %v", mock.AudioMessages)
	}
}

func TestWhatsAppServiceSendMediaMessageMissingFile(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMediaMessage(context.Background(), "15551234567", "", "/does/not/exist.mp3"); err == nil {
		t.Error("expected error for missing clip")
	}
}

func TestWhatsAppServiceCanonicalizesRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	canonical, err := svc.ValidateAndCanonicalizeRecipient("whatsapp:+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if canonical != "15551234567" {
		t.Errorf("unexpected canonical form: %q", canonical)
	}

	if _, err := svc.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for short number")
	}
}

func TestWhatsAppServiceStartWithMockSkipsEventHandling(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
