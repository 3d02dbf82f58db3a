package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemorySink stores printed output in memory (test/dev only).
type MemorySink struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	meta ArtifactMeta
}

// NewMemorySink creates an in-memory print sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string]memoryObject)}
}

// Put stores printed output.
func (s *MemorySink) Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error) {
	_ = ctx
	if key == "" {
		return ArtifactRef{}, NewError(KindValidation, "artifact key is required", nil)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ArtifactRef{}, err
	}
	meta.Size = int64(len(data))
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	s.mu.Lock()
	if s.objects == nil {
		s.objects = make(map[string]memoryObject)
	}
	s.objects[key] = memoryObject{data: data, meta: meta}
	s.mu.Unlock()

	return ArtifactRef{Key: key, Meta: meta}, nil
}

// Open reads printed output.
func (s *MemorySink) Open(ctx context.Context, key string) (io.ReadCloser, ArtifactMeta, error) {
	_ = ctx
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ArtifactMeta{}, NewError(KindNotFound, fmt.Sprintf("artifact %q not found", key), nil)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

// Bytes returns a copy of the stored output.
func (s *MemorySink) Bytes(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// MemorySurface is an in-process surface. Printing stores the written markup
// in Sink under Key.
type MemorySurface struct {
	// ManualLoad keeps the surface loading after CloseDocument until MarkLoaded.
	ManualLoad bool
	PrintErr   error
	Sink       PrintSink
	Key        string

	mu          sync.Mutex
	buf         bytes.Buffer
	state       ReadyState
	docClosed   bool
	released    bool
	focusCalls  int
	printCalls  int
	events      []string
	artifact    ArtifactRef
	hasArtifact bool

	loadOnce sync.Once
	loaded   chan struct{}
}

// NewMemorySurface creates a memory surface in the loading state.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{state: ReadyLoading, loaded: make(chan struct{})}
}

func (s *MemorySurface) Write(ctx context.Context, markup []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return NewError(KindInternal, "surface is released", nil)
	}
	if s.docClosed {
		return NewError(KindInternal, "surface document is closed", nil)
	}
	s.events = append(s.events, "write")
	_, err := s.buf.Write(markup)
	return err
}

func (s *MemorySurface) CloseDocument(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	if s.docClosed {
		s.mu.Unlock()
		return nil
	}
	s.docClosed = true
	s.events = append(s.events, "close")
	manual := s.ManualLoad
	s.mu.Unlock()

	if !manual {
		s.MarkLoaded()
	}
	return nil
}

// MarkLoaded moves the surface to complete and fires the load signal.
func (s *MemorySurface) MarkLoaded() {
	s.mu.Lock()
	s.state = ReadyComplete
	s.events = append(s.events, "load")
	s.mu.Unlock()
	s.loadOnce.Do(func() { close(s.loadedCh()) })
}

// SetReadyState overrides the reported state without firing the load signal.
func (s *MemorySurface) SetReadyState(state ReadyState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *MemorySurface) ReadyState(ctx context.Context) (ReadyState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return ReadyLoading, nil
	}
	return s.state, nil
}

func (s *MemorySurface) WaitLoad(ctx context.Context) error {
	select {
	case <-s.loadedCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemorySurface) Focus(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return NewError(KindInternal, "surface is released", nil)
	}
	s.focusCalls++
	s.events = append(s.events, "focus")
	return nil
}

func (s *MemorySurface) Print(ctx context.Context) error {
	s.mu.Lock()
	s.printCalls++
	s.events = append(s.events, "print")
	printErr := s.PrintErr
	sink := s.Sink
	key := s.Key
	markup := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	if printErr != nil {
		return printErr
	}
	if sink == nil {
		return nil
	}
	if key == "" {
		key = "print.html"
	}
	ref, err := sink.Put(ctx, key, bytes.NewReader(markup), ArtifactMeta{
		Filename:    key,
		ContentType: "text/html; charset=utf-8",
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.artifact = ref
	s.hasArtifact = true
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

// Artifact returns the output stored by the last successful print.
func (s *MemorySurface) Artifact() (ArtifactRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, s.hasArtifact
}

// Markup returns everything written to the surface.
func (s *MemorySurface) Markup() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// Events returns the recorded call sequence.
func (s *MemorySurface) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *MemorySurface) PrintCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.printCalls
}

func (s *MemorySurface) FocusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusCalls
}

func (s *MemorySurface) DocumentClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docClosed
}

func (s *MemorySurface) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *MemorySurface) loadedCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		s.loaded = make(chan struct{})
	}
	return s.loaded
}

// MemoryOpener opens memory surfaces and keeps track of them.
type MemoryOpener struct {
	// New builds each surface; NewMemorySurface when nil.
	New func() *MemorySurface
	// Deny makes OpenSurface report that no surface could be opened.
	Deny bool

	mu       sync.Mutex
	opened   []*MemorySurface
	attempts int
}

func (o *MemoryOpener) OpenSurface(ctx context.Context) (Surface, error) {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if o.Deny {
		return nil, nil
	}
	build := o.New
	if build == nil {
		build = NewMemorySurface
	}
	surface := build()
	o.opened = append(o.opened, surface)
	return surface, nil
}

// Surfaces returns the surfaces opened so far.
func (o *MemoryOpener) Surfaces() []*MemorySurface {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MemorySurface(nil), o.opened...)
}

// Attempts returns how many times OpenSurface was called.
func (o *MemoryOpener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}
