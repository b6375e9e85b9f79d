// Package service exposes the recognizer over the message bus: PCM audio
// frames in, transcripts out, finished results persisted.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-whisper/internal/audio"
	"github.com/loqalabs/loqa-whisper/internal/bus"
	"github.com/loqalabs/loqa-whisper/internal/config"
	"github.com/loqalabs/loqa-whisper/internal/native"
	"github.com/loqalabs/loqa-whisper/internal/protocol"
	"github.com/loqalabs/loqa-whisper/internal/session"
	"github.com/loqalabs/loqa-whisper/internal/transcriptstore"
)

// Service funnels every capture stream through one shared transcription
// session; the session's gateway serializes the native engine underneath.
type Service struct {
	cfg       config.ASRConfig
	engineCfg config.EngineConfig
	bus       *bus.Client
	engine    native.Engine
	store     *transcriptstore.Store
	sess      *session.Session
	streams   map[string]*streamState
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	sub       *nats.Subscription
	wg        sync.WaitGroup
	ready     bool
}

type streamState struct {
	Samples      []float32
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
}

func New(parent context.Context, cfg config.ASRConfig, engineCfg config.EngineConfig, busClient *bus.Client, engine native.Engine, store *transcriptstore.Store) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		engineCfg: engineCfg,
		bus:       busClient,
		engine:    engine,
		store:     store,
		streams:   make(map[string]*streamState),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	sess, err := session.NewFromPath(s.engine, s.engineCfg.ModelPath, session.Options{
		Threads:    s.engineCfg.Threads,
		QueueDepth: s.engineCfg.QueueDepth,
		Logger:     s.bus.Logger(),
	})
	if err != nil {
		return fmt.Errorf("open transcription session: %w", err)
	}
	s.sess = sess

	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		_ = sess.Release(context.Background())
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	if s.sess != nil {
		_ = s.sess.Release(context.Background())
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}

	channels := frame.Channels
	if channels <= 0 {
		channels = s.cfg.Channels
	}
	samples, err := audio.PCM16ToFloat32(frame.PCM, channels)
	if err != nil {
		s.bus.Logger().Warn("failed to convert audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.streams[frame.SessionID]
	if state == nil {
		state = &streamState{}
		s.streams[frame.SessionID] = state
	}
	state.Samples = append(state.Samples, samples...)
	s.mu.Unlock()

	if s.cfg.PublishInterim && !frame.Final && s.shouldSchedulePartial(frame.SessionID) {
		s.scheduleTranscription(frame.SessionID, false)
	}
	if frame.Final {
		s.scheduleTranscription(frame.SessionID, true)
	}
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.streams[sessionID]
	if state == nil || state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.streams[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	samples := append([]float32(nil), state.Samples...)
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		s.transcribe(ctx, sessionID, samples, final)

		s.mu.Lock()
		state := s.streams[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.streams, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal && !final {
			s.scheduleTranscription(sessionID, true)
		}
	}()
}

func (s *Service) transcribe(ctx context.Context, sessionID string, samples []float32, final bool) {
	language := s.engineCfg.Language

	if !final {
		text, err := s.sess.StreamTranscribe(ctx, samples, language)
		if err != nil {
			s.bus.Logger().Warn("partial transcription failed", slogError(err))
			return
		}
		s.publish(sessionID, protocol.Transcript{
			SessionID: sessionID,
			Text:      text,
			Language:  language,
			Partial:   true,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	segs, err := s.sess.TranscribeSegments(ctx, samples, language)
	if err != nil {
		s.bus.Logger().Warn("transcription failed", slogError(err))
		return
	}

	transcript := protocol.Transcript{
		SessionID: sessionID,
		Language:  language,
		Timestamp: time.Now().UTC(),
	}
	var durationCS int64
	for _, seg := range segs {
		transcript.Text += seg.Text
		transcript.Segments = append(transcript.Segments, protocol.TranscriptSegment{
			Text:    seg.Text,
			StartCS: seg.Start,
			EndCS:   seg.End,
		})
		if seg.End > durationCS {
			durationCS = seg.End
		}
	}
	s.publish(sessionID, transcript)
	s.persist(ctx, transcript, durationCS)
}

func (s *Service) publish(sessionID string, transcript protocol.Transcript) {
	if transcript.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptFinal
	if transcript.Partial {
		subject = protocol.SubjectTranscriptPartial
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) persist(ctx context.Context, transcript protocol.Transcript, durationCS int64) {
	if s.store == nil || transcript.Text == "" {
		return
	}
	segments, err := json.Marshal(transcript.Segments)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal segments", slogError(err))
		segments = nil
	}
	err = s.store.Append(ctx, transcriptstore.Transcript{
		SessionID:  transcript.SessionID,
		Language:   transcript.Language,
		Text:       transcript.Text,
		Segments:   segments,
		DurationCS: durationCS,
		CreatedAt:  transcript.Timestamp,
	})
	if err != nil {
		s.bus.Logger().Warn("failed to persist transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
