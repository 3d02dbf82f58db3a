package command

import (
	"context"
	"time"

	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-pageprint/export"
)

// DocumentExporter runs export invocations.
type DocumentExporter interface {
	ExportWith(ctx context.Context, host export.Host, opts export.ExportOptions) (export.Result, error)
}

// SurfaceReleaser releases handed-off surfaces.
type SurfaceReleaser interface {
	Release(id string) error
}

// SurfaceSweeper releases handed-off surfaces by age.
type SurfaceSweeper interface {
	ReleaseOlderThan(cutoff time.Time) (int, error)
}

// ExportDocumentHandler handles export requests.
type ExportDocumentHandler struct {
	Exporter DocumentExporter
}

func NewExportDocumentHandler(exporter DocumentExporter) *ExportDocumentHandler {
	return &ExportDocumentHandler{Exporter: exporter}
}

func (h *ExportDocumentHandler) Execute(ctx context.Context, msg ExportDocument) error {
	if h == nil || h.Exporter == nil {
		return errors.New("exporter is required", errors.CategoryInternal).
			WithTextCode("EXPORTER_REQUIRED")
	}
	result, err := h.Exporter.ExportWith(ctx, msg.Host, msg.Options)
	if msg.Result != nil {
		*msg.Result = result
	}
	if err != nil {
		return err
	}
	if res := gcmd.ResultFromContext[export.Result](ctx); res != nil {
		res.Store(result)
	}
	return nil
}

// ReleaseSurfaceHandler releases a handed-off surface.
type ReleaseSurfaceHandler struct {
	Surfaces SurfaceReleaser
}

func NewReleaseSurfaceHandler(surfaces SurfaceReleaser) *ReleaseSurfaceHandler {
	return &ReleaseSurfaceHandler{Surfaces: surfaces}
}

func (h *ReleaseSurfaceHandler) Execute(ctx context.Context, msg ReleaseSurface) error {
	_ = ctx
	if h == nil || h.Surfaces == nil {
		return errors.New("surface registry is required", errors.CategoryInternal).
			WithTextCode("REGISTRY_REQUIRED")
	}
	return h.Surfaces.Release(msg.SurfaceID)
}

// SweepSurfacesHandler releases stale handed-off surfaces.
type SweepSurfacesHandler struct {
	Surfaces SurfaceSweeper
	// MaxAge applies when the message carries none.
	MaxAge time.Duration
	Config gcmd.HandlerConfig
	Clock  func() time.Time
}

func NewSweepSurfacesHandler(surfaces SurfaceSweeper, maxAge time.Duration) *SweepSurfacesHandler {
	return &SweepSurfacesHandler{
		Surfaces: surfaces,
		MaxAge:   maxAge,
		Config:   gcmd.HandlerConfig{Expression: "*/5 * * * *"},
	}
}

func (h *SweepSurfacesHandler) Execute(ctx context.Context, msg SweepSurfaces) error {
	if h == nil || h.Surfaces == nil {
		return errors.New("surface registry is required", errors.CategoryInternal).
			WithTextCode("REGISTRY_REQUIRED")
	}
	now := msg.Now
	if now.IsZero() {
		if h.Clock != nil {
			now = h.Clock()
		} else {
			now = time.Now()
		}
	}
	maxAge := msg.MaxAge
	if maxAge == 0 {
		maxAge = h.MaxAge
	}
	if maxAge <= 0 {
		return errors.New("max age is required", errors.CategoryValidation).
			WithTextCode("MAX_AGE_REQUIRED")
	}

	count, err := h.Surfaces.ReleaseOlderThan(now.Add(-maxAge))
	if msg.Result != nil {
		*msg.Result = count
	}
	if res := gcmd.ResultFromContext[int](ctx); res != nil {
		res.Store(count)
	}
	return err
}

func (h *SweepSurfacesHandler) CronHandler() func() error {
	return func() error {
		return h.Execute(context.Background(), SweepSurfaces{})
	}
}

func (h *SweepSurfacesHandler) CronOptions() gcmd.HandlerConfig {
	return h.Config
}
