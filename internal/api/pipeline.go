package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Smoke-IT/NurseTalk/internal/models"
	"github.com/Smoke-IT/NurseTalk/internal/triage"
)

// VoiceUnclearPrompt is sent when a voice note transcribes to nothing usable.
const VoiceUnclearPrompt = "Sorry, I couldn't make out that voice note. Could you type your symptoms instead?"

// ProcessMessage runs one inbound message through the full pipeline:
// canonicalize the sender, transcribe voice notes, consult the triage engine,
// deliver the reply, and append the exchange to the conversation log. Both the
// Twilio webhook and the channel runner feed into this method.
func (s *Server) ProcessMessage(ctx context.Context, msg models.Message) error {
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Server.ProcessMessage: invalid sender", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}

	input := strings.TrimSpace(msg.Body)
	voiceIn := msg.HasAudio() && s.speech != nil

	var reply triage.Reply
	status := models.LogStatusSent

	if voiceIn {
		text, terr := s.transcribeInbound(ctx, msg)
		switch {
		case terr != nil:
			slog.Error("Server.ProcessMessage: transcription failed", "error", terr, "phone", canonical)
			reply = triage.Reply{Text: triage.ApologyText, Kind: triage.KindApology}
			status = models.LogStatusFailed
		case text == "":
			reply = triage.Reply{Text: VoiceUnclearPrompt, Kind: triage.KindPrompt}
		default:
			input = text
		}
	}

	if reply.Text == "" {
		var genErr error
		reply, genErr = s.engine.Handle(ctx, canonical, input)
		if genErr != nil {
			slog.Error("Server.ProcessMessage: generation failed", "error", genErr, "phone", canonical)
			status = models.LogStatusFailed
		}
	}
	if reply.Kind == triage.KindQuickResponse {
		status = models.LogStatusQuickResponse
	}

	result, sendErr := s.deliverer.SendText(ctx, canonical, reply.Text)
	if sendErr != nil {
		slog.Error("Server.ProcessMessage: delivery failed", "error", sendErr, "phone", canonical, "segments_sent", result.Segments)
		if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
			// Outcome unknown: the send was cut off mid-flight.
			status = models.LogStatusProcessing
		} else {
			status = models.LogStatusFailed
		}
	}

	if sendErr == nil && voiceIn {
		s.sendVoiceReply(ctx, canonical, reply.Text)
	}

	entry := models.ConversationLogEntry{
		PhoneNumber: canonical,
		UserInput:   input,
		BotResponse: reply.Text,
		Status:      status,
	}
	if reply.Elapsed > 0 {
		secs := reply.Elapsed.Seconds()
		entry.ResponseTime = &secs
	}
	if logErr := s.st.AddConversationLog(entry); logErr != nil {
		slog.Error("Server.ProcessMessage: failed to record exchange", "error", logErr, "phone", canonical)
	}
	return sendErr
}

// transcribeInbound turns the message's audio attachment into text. Remote
// media URLs (Twilio) are fetched through the speech service; local paths
// (voice notes already downloaded by the transport) are read and removed.
func (s *Server) transcribeInbound(ctx context.Context, msg models.Message) (string, error) {
	if strings.HasPrefix(msg.MediaURL, "http://") || strings.HasPrefix(msg.MediaURL, "https://") {
		return s.speech.TranscribeURL(ctx, msg.MediaURL)
	}
	defer func() {
		if err := os.Remove(msg.MediaURL); err != nil {
			slog.Warn("Server.transcribeInbound: failed to remove voice note", "error", err, "path", msg.MediaURL)
		}
	}()
	data, err := os.ReadFile(msg.MediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to read voice note: %w", err)
	}
	return s.speech.Transcribe(ctx, data, filepath.Base(msg.MediaURL))
}

// sendVoiceReply synthesizes the reply text and sends it as an audio message.
// Voice replies are best-effort: the text reply already went out, so failures
// are logged and swallowed.
func (s *Server) sendVoiceReply(ctx context.Context, to, text string) {
	clip, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		slog.Error("Server.sendVoiceReply: synthesis failed", "error", err, "phone", to)
		return
	}
	if err := s.deliverer.SendAudio(ctx, to, s.mediaURLFor(clip)); err != nil {
		slog.Error("Server.sendVoiceReply: audio delivery failed", "error", err, "phone", to, "clip", clip)
	}
}

// mediaURLFor maps a synthesized clip filename to the URL or path the
// transport needs: a public URL when one is configured (Twilio fetches media
// over HTTP), otherwise the local file path.
func (s *Server) mediaURLFor(clip string) string {
	if s.mediaBase != "" {
		return strings.TrimRight(s.mediaBase, "/") + "/audio/" + clip
	}
	return filepath.Join(s.speech.AudioDir(), clip)
}
