package command

import (
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-pageprint/export"
)

// ExportDocument requests a print-ready export of a host page.
type ExportDocument struct {
	Host    export.Host
	Options export.ExportOptions
	Result  *export.Result
}

func (ExportDocument) Type() string { return "print:export" }

// Validate accepts a missing host so the exporter reports it as unmounted.
func (ExportDocument) Validate() error { return nil }

// ReleaseSurface closes a surface handed off by an earlier export.
type ReleaseSurface struct {
	SurfaceID string
}

func (ReleaseSurface) Type() string { return "print:surface:release" }

func (msg ReleaseSurface) Validate() error {
	if msg.SurfaceID == "" {
		return errors.New("surface ID is required", errors.CategoryValidation).
			WithTextCode("SURFACE_ID_REQUIRED")
	}
	return nil
}

// SweepSurfaces releases handed-off surfaces older than MaxAge.
type SweepSurfaces struct {
	Now    time.Time
	MaxAge time.Duration
	Result *int
}

func (SweepSurfaces) Type() string { return "print:surface:sweep" }

func (msg SweepSurfaces) Validate() error {
	if msg.MaxAge < 0 {
		return errors.New("max age must not be negative", errors.CategoryValidation).
			WithTextCode("MAX_AGE_INVALID")
	}
	return nil
}
