// Package api provides HTTP handlers and the main API server logic for NurseTalk.
//
// It exposes the Twilio webhook endpoint, conversation history retrieval, a
// health check, and static serving of synthesized voice clips. The server also
// drives the inbound message pipeline for channel-based transports.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/delivery"
	"github.com/Smoke-IT/NurseTalk/internal/messaging"
	"github.com/Smoke-IT/NurseTalk/internal/speech"
	"github.com/Smoke-IT/NurseTalk/internal/store"
	"github.com/Smoke-IT/NurseTalk/internal/triage"
	"github.com/Smoke-IT/NurseTalk/internal/util"
)

const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// shutdownTimeout bounds graceful HTTP shutdown on exit.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address (e.g., ":8080").
	Addr string
	// MediaBaseURL is the public base URL clients use to fetch synthesized
	// voice clips (e.g., "https://nursetalk.example.com"). Required for
	// Twilio media messages; unused by transports that read local files.
	MediaBaseURL string
	// Speech enables voice note transcription and voice replies when set.
	Speech *speech.Service
	// Twilio enables the inbound webhook endpoint when set.
	Twilio *messaging.TwilioService
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMediaBaseURL sets the public base URL for synthesized voice clips.
func WithMediaBaseURL(base string) Option {
	return func(o *Opts) { o.MediaBaseURL = base }
}

// WithSpeechService enables voice features backed by the given service.
func WithSpeechService(s *speech.Service) Option {
	return func(o *Opts) { o.Speech = s }
}

// WithTwilioService enables the Twilio webhook endpoint.
func WithTwilioService(t *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = t }
}

// Server wires the messaging transport, triage engine, delivery adapter, and
// conversation log together behind the HTTP API.
type Server struct {
	msgService messaging.Service
	engine     *triage.Engine
	st         store.Store
	deliverer  *delivery.Adapter
	speech     *speech.Service
	twilio     *messaging.TwilioService
	mediaBase  string
	addr       string
	httpSrv    *http.Server
}

// NewServer creates an API server from its dependencies.
func NewServer(msgService messaging.Service, engine *triage.Engine, st store.Store, deliverer *delivery.Adapter, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	return &Server{
		msgService: msgService,
		engine:     engine,
		st:         st,
		deliverer:  deliverer,
		speech:     o.Speech,
		twilio:     o.Twilio,
		mediaBase:  o.MediaBaseURL,
		addr:       o.Addr,
	}
}

// routes builds the HTTP mux for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.twilioWebhookHandler)
	mux.HandleFunc("/conversations/", s.conversationLogsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.speech != nil {
		mux.Handle("/audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.speech.AudioDir()))))
	}
	return mux
}

// withRequestLogging attaches a request ID and logs each request at debug level.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := util.GenerateRequestID()
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Server: request completed", "request_id", reqID, "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// Run starts the messaging transport and HTTP server and blocks until the
// context is canceled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go s.messageRunner(ctx)
	go s.receiptRunner(ctx)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.withRequestLogging(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: NurseTalk API listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.httpSrv.Shutdown(shutdownCtx)
		if stopErr := s.msgService.Stop(); stopErr != nil {
			slog.Error("Server.Run: failed to stop messaging service", "error", stopErr)
		}
		return err
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// messageRunner consumes inbound messages from the transport channel and runs
// each through the processing pipeline. Channel-based transports (WhatsApp
// multidevice) deliver messages here; the Twilio webhook processes
// synchronously and never uses this path.
func (s *Server) messageRunner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgService.Messages():
			if !ok {
				return
			}
			if err := s.ProcessMessage(ctx, msg); err != nil {
				slog.Error("Server.messageRunner: failed to process message", "error", err, "from", msg.From)
			}
		}
	}
}

// receiptRunner drains the transport's receipt channel so slow consumers never
// stall event handling.
func (s *Server) receiptRunner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rcpt, ok := <-s.msgService.Receipts():
			if !ok {
				return
			}
			slog.Debug("Server.receiptRunner: receipt", "to", rcpt.To, "status", rcpt.Status)
		}
	}
}
