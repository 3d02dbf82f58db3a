package export

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// DefaultGracePeriod is the pause between load completion and print.
const DefaultGracePeriod = 500 * time.Millisecond

// ExporterConfig supplies dependencies for Exporter.
type ExporterConfig struct {
	Opener      SurfaceOpener
	Registry    *SurfaceRegistry
	Logger      Logger
	PrintStyles PrintStyles
	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
	Concurrency ConcurrencyPolicy
	// ReleaseAfterPrint closes the surface after a successful print instead
	// of handing it off to the registry.
	ReleaseAfterPrint bool
	After             func(time.Duration) <-chan time.Time
	Now               func() time.Time
	IDGenerator       func() string
}

// Exporter produces a print-ready rendition of a host page on a fresh surface
// and invokes the surface print facility.
type Exporter struct {
	opener            SurfaceOpener
	registry          *SurfaceRegistry
	logger            Logger
	printStyles       PrintStyles
	grace             time.Duration
	concurrency       ConcurrencyPolicy
	releaseAfterPrint bool
	after             func(time.Duration) <-chan time.Time
	now               func() time.Time
	idGenerator       func() string

	inflight atomic.Int32
}

// NewExporter creates an Exporter with the provided configuration.
func NewExporter(cfg ExporterConfig) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewSurfaceRegistry()
	}
	if registry.Logger == nil {
		registry.Logger = logger
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	concurrency := cfg.Concurrency
	if concurrency == "" {
		concurrency = ConcurrencySingle
	}
	after := cfg.After
	if after == nil {
		after = time.After
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}

	return &Exporter{
		opener:            cfg.Opener,
		registry:          registry,
		logger:            logger,
		printStyles:       cfg.PrintStyles,
		grace:             grace,
		concurrency:       concurrency,
		releaseAfterPrint: cfg.ReleaseAfterPrint,
		after:             after,
		now:               nowFn,
		idGenerator:       idGen,
	}
}

// Registry returns the registry holding handed-off surfaces.
func (e *Exporter) Registry() *SurfaceRegistry {
	if e == nil {
		return nil
	}
	return e.registry
}

// ExportOptions overrides exporter defaults for one invocation.
type ExportOptions struct {
	Opener SurfaceOpener
	// ReleaseAfterPrint forces release after a successful print.
	ReleaseAfterPrint bool
}

// Export runs one export invocation against host. Every failure is terminal
// for the invocation and is logged before it is returned.
func (e *Exporter) Export(ctx context.Context, host Host) (Result, error) {
	return e.ExportWith(ctx, host, ExportOptions{})
}

// ExportWith runs Export with per-invocation overrides.
func (e *Exporter) ExportWith(ctx context.Context, host Host, opts ExportOptions) (Result, error) {
	if e == nil {
		return Result{}, NewError(KindInternal, "exporter is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := Result{ID: e.idGenerator(), StartedAt: e.now()}

	root := contentRoot(host)
	if root == nil {
		return result, e.fail(result.ID, NewError(KindNotMounted, "content root is not mounted", nil))
	}
	opener := opts.Opener
	if opener == nil {
		opener = e.opener
	}
	if opener == nil {
		return result, e.fail(result.ID, NewError(KindValidation, "exporter requires a surface opener", nil))
	}

	if e.concurrency == ConcurrencySingle {
		if !e.inflight.CompareAndSwap(0, 1) {
			return result, e.fail(result.ID, NewError(KindConflict, "an export is already in progress", nil))
		}
		defer e.inflight.Store(0)
	}

	surface, err := opener.OpenSurface(ctx)
	if err != nil || surface == nil {
		return result, e.fail(result.ID, NewError(KindSurfaceUnavailable, "secondary surface unavailable", err))
	}

	doc, err := BuildPrintDocument(root, host.StyleResources(), e.printStyles)
	if err != nil {
		return result, e.abort(result.ID, surface, err)
	}
	result.Document = doc.Markup
	result.Sections = doc.Sections
	result.Styles = doc.Styles
	e.logger.Debugf("export %s: assembled %d bytes, sections=%d styles=%d", result.ID, len(doc.Markup), doc.Sections, doc.Styles)

	if err := surface.Write(ctx, doc.Markup); err != nil {
		return result, e.abort(result.ID, surface, NewError(KindInternal, "surface write failed", err))
	}
	if err := surface.CloseDocument(ctx); err != nil {
		return result, e.abort(result.ID, surface, NewError(KindInternal, "surface document close failed", err))
	}

	if err := e.awaitResources(ctx, result.ID, surface); err != nil {
		return result, e.abort(result.ID, surface, err)
	}

	printErr := e.invokePrint(ctx, surface)
	if reporter, ok := surface.(ArtifactReporter); ok {
		if ref, ok := reporter.Artifact(); ok {
			result.Artifact = ref
		}
	}
	result.CompletedAt = e.now()

	if printErr != nil {
		// The surface stays open so the user can retry the print by hand.
		e.handOff(&result, surface, false)
		return result, e.fail(result.ID, NewError(KindPrintFailed, "print invocation failed", printErr))
	}

	result.Printed = true
	if e.releaseAfterPrint || opts.ReleaseAfterPrint {
		e.release(result.ID, surface)
	} else {
		e.handOff(&result, surface, true)
	}
	e.logger.Infof("export %s: printed sections=%d artifact=%q", result.ID, result.Sections, result.Artifact.Key)
	return result, nil
}

func (e *Exporter) awaitResources(ctx context.Context, id string, surface Surface) error {
	state, err := surface.ReadyState(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		e.logger.Debugf("export %s: ready state unavailable, waiting for load: %v", id, err)
	}

	if state != ReadyComplete {
		if err := surface.WaitLoad(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return contextError(ctxErr)
			}
			e.logger.Errorf("export %s: load signal failed, falling back to grace period: %v", id, err)
		}
	}

	if waiter, ok := surface.(ImageWaiter); ok {
		if err := waiter.WaitImages(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return contextError(ctxErr)
			}
			e.logger.Errorf("export %s: image wait failed, falling back to grace period: %v", id, err)
		}
	}

	select {
	case <-e.after(e.grace):
		return nil
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
}

func (e *Exporter) invokePrint(ctx context.Context, surface Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("print panicked: %v", r)
		}
	}()
	if err := surface.Focus(ctx); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	return surface.Print(ctx)
}

func (e *Exporter) handOff(result *Result, surface Surface, printed bool) {
	if err := e.registry.Add(result.ID, surface, printed); err != nil {
		e.logger.Errorf("export %s: surface hand-off failed: %v", result.ID, err)
		return
	}
	result.SurfaceID = result.ID
}

func (e *Exporter) abort(id string, surface Surface, err error) error {
	e.release(id, surface)
	return e.fail(id, err)
}

func (e *Exporter) release(id string, surface Surface) {
	if err := surface.Close(); err != nil {
		e.logger.Errorf("export %s: surface release failed: %v", id, err)
	}
}

func (e *Exporter) fail(id string, err error) error {
	e.logger.Errorf("export %s: %v", id, err)
	return err
}

func contentRoot(host Host) *html.Node {
	if host == nil {
		return nil
	}
	return host.ContentRoot()
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, "export timed out waiting for surface", err)
	}
	return NewError(KindCanceled, "export canceled waiting for surface", err)
}
