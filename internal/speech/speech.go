// Package speech handles voice notes: downloading inbound media, transcribing
// it with Whisper, and synthesizing spoken MP3 replies.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultAudioDir is where synthesized clips are written when no override is
// configured. Served statically so providers can fetch them as media URLs.
const DefaultAudioDir = "static/audio"

// ErrEmptyText indicates there was nothing to synthesize.
var ErrEmptyText = errors.New("no text to synthesize")

// transcriptionService abstracts the Whisper call for testing.
type transcriptionService interface {
	Transcribe(ctx context.Context, rdr io.Reader, filename string) (string, error)
}

// synthesisService abstracts the TTS call for testing.
type synthesisService interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// openaiAudioService implements both against the real OpenAI client.
type openaiAudioService struct {
	client openai.Client
}

func (s *openaiAudioService) Transcribe(ctx context.Context, rdr io.Reader, filename string) (string, error) {
	resp, err := s.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(rdr, filename, "application/octet-stream"),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *openaiAudioService) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoiceAlloy,
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Opts holds configuration for the speech service.
type Opts struct {
	APIKey       string
	AudioDir     string
	MediaUser    string // basic auth for provider media downloads
	MediaPass    string
	HTTPClient   *http.Client
}

// Option configures the speech service.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAudioDir sets the directory synthesized clips are written to.
func WithAudioDir(dir string) Option {
	return func(o *Opts) { o.AudioDir = dir }
}

// WithMediaCredentials sets the basic auth credentials used when downloading
// provider-hosted media (Twilio protects media URLs with account credentials).
func WithMediaCredentials(user, pass string) Option {
	return func(o *Opts) { o.MediaUser = user; o.MediaPass = pass }
}

// WithHTTPClient overrides the HTTP client used for media downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Service downloads, transcribes, and synthesizes audio.
type Service struct {
	transcriber transcriptionService
	synthesizer synthesisService
	audioDir    string
	mediaUser   string
	mediaPass   string
	httpClient  *http.Client
}

// NewService creates a speech service. An API key is required.
func NewService(opts ...Option) (*Service, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not provided")
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = DefaultAudioDir
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	api := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	audio := &openaiAudioService{client: api}
	slog.Debug("Speech service created", "audio_dir", cfg.AudioDir)
	return &Service{
		transcriber: audio,
		synthesizer: audio,
		audioDir:    cfg.AudioDir,
		mediaUser:   cfg.MediaUser,
		mediaPass:   cfg.MediaPass,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// AudioDir returns the directory synthesized clips are written to.
func (s *Service) AudioDir() string {
	return s.audioDir
}

// DownloadMedia fetches a provider-hosted media file, using basic auth when
// credentials are configured.
func (s *Service) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	if s.mediaUser != "" {
		req.SetBasicAuth(s.mediaUser, s.mediaPass)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	slog.Debug("Speech.DownloadMedia fetched media", "bytes", len(data))
	return data, nil
}

// Transcribe runs Whisper over the audio bytes. Unintelligible audio yields an
// empty string, not an error; callers prompt the user to try again.
func (s *Service) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	if filename == "" {
		filename = "voice_note.ogg"
	}
	text, err := s.transcriber.Transcribe(ctx, bytes.NewReader(data), filename)
	if err != nil {
		slog.Error("Speech.Transcribe API call failed", "error", err)
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	text = strings.TrimSpace(text)
	slog.Debug("Speech.Transcribe done", "text_length", len(text))
	return text, nil
}

// TranscribeURL downloads a voice note and transcribes it in one step.
func (s *Service) TranscribeURL(ctx context.Context, mediaURL string) (string, error) {
	data, err := s.DownloadMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	return s.Transcribe(ctx, data, filepath.Base(mediaURL))
}

// Synthesize converts text to an MP3 clip in the audio directory and returns
// the generated filename (relative to the audio directory).
func (s *Service) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	body, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		slog.Error("Speech.Synthesize API call failed", "error", err)
		return "", fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer body.Close()

	filename := fmt.Sprintf("response_%d_%s.mp3", time.Now().Unix(), uuid.NewString()[:8])
	path := filepath.Join(s.audioDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	slog.Info("Speech.Synthesize wrote clip", "file", filename)
	return filename, nil
}

// CleanOldFiles removes synthesized clips older than maxAge and returns how
// many were deleted. Run periodically by the scheduler.
func (s *Service) CleanOldFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.audioDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read audio directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.audioDir, entry.Name())); err != nil {
				slog.Warn("Speech.CleanOldFiles failed to remove clip", "error", err, "file", entry.Name())
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Speech.CleanOldFiles removed stale clips", "count", removed)
	}
	return removed, nil
}
