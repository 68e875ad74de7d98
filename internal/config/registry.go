package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vivavoce/pkg/capture"
	"github.com/MrWong99/vivavoce/pkg/provider/detect"
	"github.com/MrWong99/vivavoce/pkg/provider/llm"
	"github.com/MrWong99/vivavoce/pkg/provider/stt"
	"github.com/MrWong99/vivavoce/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Host is the capability source of one connected assessment host. Session
// scoped factories receive it so that "remote" providers can bind to the
// connection while other implementations ignore it.
type Host interface {
	stt.Provider
	tts.Provider
	detect.Provider
	capture.Device
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
//
// LLM factories run once at startup. STT, TTS, detector and capture
// factories run once per host connection. A detector or capture factory may
// return nil to disable the capability for the session.
type Registry struct {
	mu       sync.RWMutex
	llm      map[string]func(ProviderEntry) (llm.Provider, error)
	stt      map[string]func(ProviderEntry, Host) (stt.Provider, error)
	tts      map[string]func(ProviderEntry, Host) (tts.Provider, error)
	detector map[string]func(ProviderEntry, Host) (detect.Provider, error)
	capture  map[string]func(ProviderEntry, Host) (capture.Device, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:      make(map[string]func(ProviderEntry, Host) (stt.Provider, error)),
		tts:      make(map[string]func(ProviderEntry, Host) (tts.Provider, error)),
		detector: make(map[string]func(ProviderEntry, Host) (detect.Provider, error)),
		capture:  make(map[string]func(ProviderEntry, Host) (capture.Device, error)),
	}
}

// register stores factory under name in m, replacing any earlier entry.
func register[F any](r *Registry, m map[string]F, name string, factory F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

// lookup returns the factory registered under name in m.
func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := m[name]
	if !ok {
		return f, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return f, nil
}

// RegisterLLM registers an LLM factory under name. A later registration
// under the same name wins.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterSTT registers a per-connection recognizer factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry, Host) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a per-connection voice factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry, Host) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterDetector registers a per-connection object detector factory.
func (r *Registry) RegisterDetector(name string, factory func(ProviderEntry, Host) (detect.Provider, error)) {
	register(r, r.detector, name, factory)
}

// RegisterCapture registers a per-connection camera factory.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry, Host) (capture.Device, error)) {
	register(r, r.capture, name, factory)
}

// RegisterRemote registers the "remote" factories that hand out h itself and
// the "none" factories that disable detection and capture.
func (r *Registry) RegisterRemote() {
	r.RegisterSTT(ProviderRemote, func(_ ProviderEntry, h Host) (stt.Provider, error) { return h, nil })
	r.RegisterTTS(ProviderRemote, func(_ ProviderEntry, h Host) (tts.Provider, error) { return h, nil })
	r.RegisterDetector(ProviderRemote, func(_ ProviderEntry, h Host) (detect.Provider, error) { return h, nil })
	r.RegisterCapture(ProviderRemote, func(_ ProviderEntry, h Host) (capture.Device, error) { return h, nil })
	r.RegisterDetector(ProviderNone, func(ProviderEntry, Host) (detect.Provider, error) { return nil, nil })
	r.RegisterCapture(ProviderNone, func(ProviderEntry, Host) (capture.Device, error) { return nil, nil })
}

// CreateLLM builds the grading model named by entry. It returns
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSTT builds the recognizer for host h.
func (r *Registry) CreateSTT(entry ProviderEntry, h Host) (stt.Provider, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, h)
}

// CreateTTS builds the voice for host h.
func (r *Registry) CreateTTS(entry ProviderEntry, h Host) (tts.Provider, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, h)
}

// CreateDetector builds the object detector for host h. A nil provider
// without error means detection is disabled.
func (r *Registry) CreateDetector(entry ProviderEntry, h Host) (detect.Provider, error) {
	f, err := lookup(r, r.detector, "detector", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, h)
}

// CreateCapture builds the camera for host h. A nil device without error
// means the session runs without a camera.
func (r *Registry) CreateCapture(entry ProviderEntry, h Host) (capture.Device, error) {
	f, err := lookup(r, r.capture, "capture", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, h)
}
