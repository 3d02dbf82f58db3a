package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"
)

type manualClock struct {
	mu        sync.Mutex
	requested []time.Duration
	requests  chan time.Duration
	fire      chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{
		requests: make(chan time.Duration, 8),
		fire:     make(chan time.Time),
	}
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.requested = append(c.requested, d)
	c.mu.Unlock()
	c.requests <- d
	return c.fire
}

func immediateAfter(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debugf(string, ...any) {}
func (l *recordingLogger) Infof(string, ...any)  {}
func (l *recordingLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

type exportOutcome struct {
	result Result
	err    error
}

func runExport(ctx context.Context, exp *Exporter, host Host) <-chan exportOutcome {
	out := make(chan exportOutcome, 1)
	go func() {
		result, err := exp.Export(ctx, host)
		out <- exportOutcome{result: result, err: err}
	}()
	return out
}

func waitOutcome(t *testing.T, ch <-chan exportOutcome) exportOutcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatalf("export did not finish")
	}
	return exportOutcome{}
}

func waitRequest(t *testing.T, clock *manualClock) time.Duration {
	t.Helper()
	select {
	case d := <-clock.requests:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("grace timer was not requested")
	}
	return 0
}

func newTestExporter(opener SurfaceOpener, after func(time.Duration) <-chan time.Time) *Exporter {
	return NewExporter(ExporterConfig{
		Opener:      opener,
		After:       after,
		IDGenerator: func() string { return "exp-1" },
	})
}

func TestExporter_MarksEverySection(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	opener := &MemoryOpener{}
	result, err := newTestExporter(opener, immediateAfter).Export(context.Background(), host)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Sections != 4 {
		t.Fatalf("expected 4 sections, got %d", result.Sections)
	}

	written, err := html.Parse(bytes.NewReader(opener.Surfaces()[0].Markup()))
	if err != nil {
		t.Fatalf("parse written markup: %v", err)
	}
	clone := findFirst(written, RootSelector{}.matches)
	if clone == nil {
		t.Fatalf("expected clone in written document")
	}
	children := elementChildren(clone)
	marked := 0
	for _, child := range children {
		if hasClass(child, PageBreakClass) {
			marked++
		}
	}
	if marked != len(children) || marked != 4 {
		t.Fatalf("expected 4 marked sections, got %d of %d", marked, len(children))
	}
	if !strings.Contains(string(result.Document), ".print-page:last-child { page-break-after: auto;") {
		t.Fatalf("expected last section override in print styles")
	}
}

func TestExporter_SectionCounts(t *testing.T) {
	cases := map[string]struct {
		sections string
		want     int
	}{
		"empty root":  {sections: "", want: 0},
		"one section": {sections: "<section>Only</section>", want: 1},
		"four":        {sections: "<section>A</section><section>B</section><section>C</section><footer>D</footer>", want: 4},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			page := "<html><head></head><body><div data-export-root>" + tc.sections + "</div></body></html>"
			host := mustParseHost(t, page, RootSelector{})
			opener := &MemoryOpener{}
			result, err := newTestExporter(opener, immediateAfter).Export(context.Background(), host)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if result.Sections != tc.want {
				t.Fatalf("expected %d sections, got %d", tc.want, result.Sections)
			}
			markup := string(opener.Surfaces()[0].Markup())
			if got := strings.Count(markup, `class="`+PageBreakClass+`"`); got != tc.want {
				t.Fatalf("expected %d page break markers, got %d in %s", tc.want, got, markup)
			}
			if !result.Printed {
				t.Fatalf("expected printed result")
			}
		})
	}
}

func TestExporter_DoesNotMutateLiveContent(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	before := renderNode(host.ContentRoot())

	if _, err := newTestExporter(&MemoryOpener{}, immediateAfter).Export(context.Background(), host); err != nil {
		t.Fatalf("export: %v", err)
	}
	if after := renderNode(host.ContentRoot()); after != before {
		t.Fatalf("live content changed\nbefore %s\nafter  %s", before, after)
	}
}

func TestExporter_StylesPrecedePrintBlock(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	result, err := newTestExporter(&MemoryOpener{}, immediateAfter).Export(context.Background(), host)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	doc := string(result.Document)
	head := doc[:strings.Index(doc, "</head>")]

	last := -1
	for _, style := range host.StyleResources() {
		idx := strings.Index(head, style.Markup)
		if idx < 0 {
			t.Fatalf("missing style %q in head", style.Markup)
		}
		if idx <= last {
			t.Fatalf("style %q out of order", style.Markup)
		}
		last = idx
	}
	printIdx := strings.Index(head, "@page")
	if printIdx <= last {
		t.Fatalf("expected print block after copied styles")
	}
	if !strings.HasPrefix(doc, `<!doctype html><html><head><meta charset="utf-8">`) {
		t.Fatalf("unexpected document prefix: %.60s", doc)
	}
	if result.Styles != 3 {
		t.Fatalf("expected 3 copied styles, got %d", result.Styles)
	}
}

func TestExporter_NotMountedOpensNothing(t *testing.T) {
	host := mustParseHost(t, "<html><body><p>loading</p></body></html>", RootSelector{})
	opener := &MemoryOpener{}
	logger := &recordingLogger{}
	exp := NewExporter(ExporterConfig{Opener: opener, Logger: logger, After: immediateAfter})

	_, err := exp.Export(context.Background(), host)
	if KindFromError(err) != KindNotMounted {
		t.Fatalf("expected content_not_mounted, got %v", err)
	}
	if opener.Attempts() != 0 {
		t.Fatalf("expected no surface to be opened")
	}
	if logger.count() != 1 {
		t.Fatalf("expected failure to be logged")
	}

	if _, err := exp.Export(context.Background(), nil); KindFromError(err) != KindNotMounted {
		t.Fatalf("expected content_not_mounted for nil host, got %v", err)
	}
}

type recordingSurface struct {
	writes int
	prints int
}

func (s *recordingSurface) Write(context.Context, []byte) error { s.writes++; return nil }
func (s *recordingSurface) CloseDocument(context.Context) error { return nil }
func (s *recordingSurface) ReadyState(context.Context) (ReadyState, error) {
	return ReadyComplete, nil
}
func (s *recordingSurface) WaitLoad(context.Context) error { return nil }
func (s *recordingSurface) Focus(context.Context) error    { return nil }
func (s *recordingSurface) Print(context.Context) error    { s.prints++; return nil }
func (s *recordingSurface) Close() error                   { return nil }

func TestExporter_SurfaceUnavailable(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	stub := &recordingSurface{}
	cases := map[string]SurfaceOpenerFunc{
		"nil surface": func(context.Context) (Surface, error) { return nil, nil },
		"opener error": func(context.Context) (Surface, error) {
			return stub, errors.New("popup blocked")
		},
	}

	for name, opener := range cases {
		t.Run(name, func(t *testing.T) {
			logger := &recordingLogger{}
			exp := NewExporter(ExporterConfig{Opener: opener, Logger: logger, After: immediateAfter})
			_, err := exp.Export(context.Background(), host)
			if KindFromError(err) != KindSurfaceUnavailable {
				t.Fatalf("expected surface_unavailable, got %v", err)
			}
			if logger.count() != 1 {
				t.Fatalf("expected failure to be logged")
			}
		})
	}
	if stub.writes != 0 || stub.prints != 0 {
		t.Fatalf("expected no write or print, got writes=%d prints=%d", stub.writes, stub.prints)
	}
}

func TestExporter_DeniedOpener(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	opener := &MemoryOpener{Deny: true}
	_, err := newTestExporter(opener, immediateAfter).Export(context.Background(), host)
	if KindFromError(err) != KindSurfaceUnavailable {
		t.Fatalf("expected surface_unavailable, got %v", err)
	}
	if opener.Attempts() != 1 || len(opener.Surfaces()) != 0 {
		t.Fatalf("expected one denied attempt")
	}
}

func TestExporter_AlreadyLoadedWaitsGracePeriod(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	surface := NewMemorySurface()
	surface.ManualLoad = true
	surface.SetReadyState(ReadyComplete)
	opener := &MemoryOpener{New: func() *MemorySurface { return surface }}
	clock := newManualClock()

	done := runExport(context.Background(), newTestExporter(opener, clock.After), host)

	if d := waitRequest(t, clock); d != DefaultGracePeriod {
		t.Fatalf("expected %s grace period, got %s", DefaultGracePeriod, d)
	}
	if surface.PrintCalls() != 0 {
		t.Fatalf("print ran before the grace period elapsed")
	}

	clock.fire <- time.Now()
	outcome := waitOutcome(t, done)
	if outcome.err != nil {
		t.Fatalf("export: %v", outcome.err)
	}
	if surface.PrintCalls() != 1 || surface.FocusCalls() != 1 {
		t.Fatalf("expected focus and print once, got focus=%d print=%d", surface.FocusCalls(), surface.PrintCalls())
	}
	if !outcome.result.Printed {
		t.Fatalf("expected printed result")
	}
}

func TestExporter_NotLoadedWaitsForSignal(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	surface := NewMemorySurface()
	surface.ManualLoad = true
	opener := &MemoryOpener{New: func() *MemorySurface { return surface }}
	clock := newManualClock()

	done := runExport(context.Background(), newTestExporter(opener, clock.After), host)

	select {
	case <-clock.requests:
		t.Fatalf("grace timer started before the load signal")
	case <-time.After(50 * time.Millisecond):
	}
	if surface.PrintCalls() != 0 {
		t.Fatalf("print ran before load")
	}

	surface.MarkLoaded()
	if d := waitRequest(t, clock); d != DefaultGracePeriod {
		t.Fatalf("expected grace period %v, got %v", DefaultGracePeriod, d)
	}
	if surface.PrintCalls() != 0 {
		t.Fatalf("print ran before the grace period elapsed")
	}

	clock.fire <- time.Now()
	if outcome := waitOutcome(t, done); outcome.err != nil {
		t.Fatalf("export: %v", outcome.err)
	}

	events := strings.Join(surface.Events(), ",")
	if events != "write,close,load,focus,print" {
		t.Fatalf("unexpected call sequence %s", events)
	}
}

type imageSurface struct {
	*MemorySurface
	mu    sync.Mutex
	calls int
	err   error
}

func (s *imageSurface) WaitImages(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.err
}

func TestExporter_WaitsForImagesWhenSupported(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	for _, waitErr := range []error{nil, errors.New("image wait failed")} {
		surface := &imageSurface{MemorySurface: NewMemorySurface(), err: waitErr}
		exp := newTestExporter(SurfaceOpenerFunc(func(context.Context) (Surface, error) {
			return surface, nil
		}), immediateAfter)

		if _, err := exp.Export(context.Background(), host); err != nil {
			t.Fatalf("export: %v", err)
		}
		if surface.calls != 1 {
			t.Fatalf("expected one image wait, got %d", surface.calls)
		}
		if surface.PrintCalls() != 1 {
			t.Fatalf("expected print after image wait (err=%v)", waitErr)
		}
	}
}

func TestExporter_PrintFailureKeepsSurfaceOpen(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	surface := NewMemorySurface()
	surface.PrintErr = errors.New("print dialog unavailable")
	opener := &MemoryOpener{New: func() *MemorySurface { return surface }}
	exp := newTestExporter(opener, immediateAfter)

	result, err := exp.Export(context.Background(), host)
	if KindFromError(err) != KindPrintFailed {
		t.Fatalf("expected print_failed, got %v", err)
	}
	if surface.Released() {
		t.Fatalf("expected surface to stay open after print failure")
	}
	if result.SurfaceID != "exp-1" || exp.Registry().Len() != 1 {
		t.Fatalf("expected surface handed off, got id=%q len=%d", result.SurfaceID, exp.Registry().Len())
	}
	if surface.PrintCalls() != 1 {
		t.Fatalf("expected a single print attempt, got %d", surface.PrintCalls())
	}

	if err := exp.Registry().Release(result.SurfaceID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !surface.Released() {
		t.Fatalf("expected surface released")
	}
}

type panickingSurface struct {
	*MemorySurface
}

func (panickingSurface) Print(context.Context) error { panic("print exploded") }

func TestExporter_PrintPanicIsCaught(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	exp := newTestExporter(SurfaceOpenerFunc(func(context.Context) (Surface, error) {
		return panickingSurface{NewMemorySurface()}, nil
	}), immediateAfter)

	if _, err := exp.Export(context.Background(), host); KindFromError(err) != KindPrintFailed {
		t.Fatalf("expected print_failed, got %v", err)
	}
}

func TestExporter_ReleaseAfterPrint(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	sink := NewMemorySink()
	surface := NewMemorySurface()
	surface.Sink = sink
	surface.Key = "exp-1.html"
	exp := NewExporter(ExporterConfig{
		Opener:            &MemoryOpener{New: func() *MemorySurface { return surface }},
		After:             immediateAfter,
		ReleaseAfterPrint: true,
	})

	result, err := exp.Export(context.Background(), host)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !surface.Released() || exp.Registry().Len() != 0 || result.SurfaceID != "" {
		t.Fatalf("expected surface released after print")
	}
	if result.Artifact.Key != "exp-1.html" {
		t.Fatalf("expected artifact key, got %q", result.Artifact.Key)
	}
	stored, ok := sink.Bytes("exp-1.html")
	if !ok || !bytes.Equal(stored, result.Document) {
		t.Fatalf("expected printed markup in sink")
	}
}

func TestExporter_HandsOffSurfaceByDefault(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	exp := newTestExporter(&MemoryOpener{}, immediateAfter)
	result, err := exp.Export(context.Background(), host)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	infos := exp.Registry().List()
	if len(infos) != 1 || infos[0].ID != result.SurfaceID || !infos[0].Printed {
		t.Fatalf("unexpected registry contents %+v", infos)
	}
}

func TestExporter_HandOffSetsSurfaceIDWhenReplacedCloseFails(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	first := &closeCountingSurface{MemorySurface: NewMemorySurface(), err: errors.New("tab gone")}
	second := &closeCountingSurface{MemorySurface: NewMemorySurface()}
	surfaces := []Surface{first, second}
	opener := SurfaceOpenerFunc(func(context.Context) (Surface, error) {
		next := surfaces[0]
		surfaces = surfaces[1:]
		return next, nil
	})
	exp := newTestExporter(opener, immediateAfter)

	if _, err := exp.Export(context.Background(), host); err != nil {
		t.Fatalf("first export: %v", err)
	}
	result, err := exp.Export(context.Background(), host)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if result.SurfaceID != "exp-1" {
		t.Fatalf("expected surface id despite failed close of replaced surface, got %q", result.SurfaceID)
	}
	if got, ok := exp.Registry().Get("exp-1"); !ok || got != Surface(second) {
		t.Fatalf("expected second surface registered")
	}
}

func TestExporter_RejectsOverlappingExports(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	clock := newManualClock()
	opener := &MemoryOpener{}
	exp := newTestExporter(opener, clock.After)

	first := runExport(context.Background(), exp, host)
	waitRequest(t, clock)

	_, err := exp.Export(context.Background(), host)
	if KindFromError(err) != KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	clock.fire <- time.Now()
	if outcome := waitOutcome(t, first); outcome.err != nil {
		t.Fatalf("first export: %v", outcome.err)
	}
	if len(opener.Surfaces()) != 1 {
		t.Fatalf("expected a single surface, got %d", len(opener.Surfaces()))
	}
}

func TestExporter_ParallelPolicyOpensIndependentSurfaces(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	clock := newManualClock()
	opener := &MemoryOpener{}
	exp := NewExporter(ExporterConfig{
		Opener:      opener,
		After:       clock.After,
		Concurrency: ConcurrencyParallel,
	})

	first := runExport(context.Background(), exp, host)
	second := runExport(context.Background(), exp, host)
	waitRequest(t, clock)
	waitRequest(t, clock)

	clock.fire <- time.Now()
	clock.fire <- time.Now()
	for _, ch := range []<-chan exportOutcome{first, second} {
		if outcome := waitOutcome(t, ch); outcome.err != nil {
			t.Fatalf("export: %v", outcome.err)
		}
	}
	if len(opener.Surfaces()) != 2 || exp.Registry().Len() != 2 {
		t.Fatalf("expected two independent surfaces")
	}
}

func TestExporter_CancelReleasesSurface(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	surface := NewMemorySurface()
	surface.ManualLoad = true
	opener := &MemoryOpener{New: func() *MemorySurface { return surface }}
	ctx, cancel := context.WithCancel(context.Background())

	done := runExport(ctx, newTestExporter(opener, immediateAfter), host)
	cancel()

	outcome := waitOutcome(t, done)
	if KindFromError(outcome.err) != KindCanceled {
		t.Fatalf("expected canceled, got %v", outcome.err)
	}
	if !surface.Released() {
		t.Fatalf("expected surface released on cancel")
	}
	if surface.PrintCalls() != 0 {
		t.Fatalf("expected no print after cancel")
	}
}

func TestExporter_InvalidPrintStylesReleaseSurface(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	opener := &MemoryOpener{}
	exp := NewExporter(ExporterConfig{
		Opener:      opener,
		After:       immediateAfter,
		PrintStyles: PrintStyles{Orientation: "diagonal"},
	})

	if _, err := exp.Export(context.Background(), host); KindFromError(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	surfaces := opener.Surfaces()
	if len(surfaces) != 1 || !surfaces[0].Released() || len(surfaces[0].Markup()) != 0 {
		t.Fatalf("expected released surface without writes")
	}
}

func TestExporter_ExportWithOverridesOpener(t *testing.T) {
	host := mustParseHost(t, samplePage, RootSelector{})
	fallback := &MemoryOpener{}
	override := &MemoryOpener{}
	exp := newTestExporter(fallback, immediateAfter)

	result, err := exp.ExportWith(context.Background(), host, ExportOptions{
		Opener:            override,
		ReleaseAfterPrint: true,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if fallback.Attempts() != 0 || override.Attempts() != 1 {
		t.Fatalf("expected override opener to be used")
	}
	if !override.Surfaces()[0].Released() || exp.Registry().Len() != 0 || result.SurfaceID != "" {
		t.Fatalf("expected forced release after print")
	}
}
