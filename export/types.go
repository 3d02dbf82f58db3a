package export

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/net/html"
)

// ReadyState mirrors the load state a surface reports for its document.
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// StyleKind identifies a style-defining head element.
type StyleKind string

const (
	StyleLink   StyleKind = "link"
	StyleInline StyleKind = "style"
)

// StyleResource is a serialized style declaration copied from the host head.
type StyleResource struct {
	Kind   StyleKind
	Markup string
}

// ContentSource exposes the live content root. A nil node means the content
// is not mounted yet.
type ContentSource interface {
	ContentRoot() *html.Node
}

// StyleSource lists the host document's style declarations in document order.
type StyleSource interface {
	StyleResources() []StyleResource
}

// Host is the capability set an export reads from the originating page.
type Host interface {
	ContentSource
	StyleSource
}

// Surface is a secondary rendering context that hosts the print document.
type Surface interface {
	// Write streams markup into the surface document.
	Write(ctx context.Context, markup []byte) error
	// CloseDocument ends the write stream so the surface can start loading.
	CloseDocument(ctx context.Context) error
	ReadyState(ctx context.Context) (ReadyState, error)
	// WaitLoad blocks until the surface signals load completion.
	WaitLoad(ctx context.Context) error
	Focus(ctx context.Context) error
	Print(ctx context.Context) error
	// Close releases the surface.
	Close() error
}

// ImageWaiter is implemented by surfaces that can observe per-image load
// completion.
type ImageWaiter interface {
	WaitImages(ctx context.Context) error
}

// ArtifactReporter is implemented by surfaces whose print produced an artifact.
type ArtifactReporter interface {
	Artifact() (ArtifactRef, bool)
}

// SurfaceOpener creates new surfaces. A nil surface with a nil error means the
// platform declined to open one.
type SurfaceOpener interface {
	OpenSurface(ctx context.Context) (Surface, error)
}

// SurfaceOpenerFunc adapts a function to a SurfaceOpener.
type SurfaceOpenerFunc func(ctx context.Context) (Surface, error)

func (f SurfaceOpenerFunc) OpenSurface(ctx context.Context) (Surface, error) {
	if f == nil {
		return nil, errors.New("surface opener func is nil")
	}
	return f(ctx)
}

// ArtifactMeta describes printed output.
type ArtifactMeta struct {
	Filename    string
	ContentType string
	Size        int64
	Pages       int
	CreatedAt   time.Time
}

// ArtifactRef references stored printed output.
type ArtifactRef struct {
	Key  string
	Meta ArtifactMeta
}

// PrintSink receives the output of a surface print.
type PrintSink interface {
	Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error)
}

// ConcurrencyPolicy controls overlapping invocations on one exporter.
type ConcurrencyPolicy string

const (
	// ConcurrencySingle rejects an export while another one is in flight.
	ConcurrencySingle ConcurrencyPolicy = "single"
	// ConcurrencyParallel lets every invocation open its own surface.
	ConcurrencyParallel ConcurrencyPolicy = "parallel"
)

// Result describes a finished export invocation.
type Result struct {
	ID       string
	Sections int
	Styles   int
	Document []byte
	// SurfaceID is set when the surface was handed off to the registry.
	SurfaceID   string
	Artifact    ArtifactRef
	Printed     bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Logger provides logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
