package query

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-pageprint/export"
)

// SurfaceLister lists handed-off surfaces.
type SurfaceLister interface {
	List() []export.SurfaceInfo
}

// ArtifactLister lists stored artifacts, oldest first.
type ArtifactLister interface {
	List(ctx context.Context) ([]export.ArtifactRef, error)
}

// OpenSurfacesHandler returns the handed-off surfaces.
type OpenSurfacesHandler struct {
	Surfaces SurfaceLister
}

func NewOpenSurfacesHandler(surfaces SurfaceLister) *OpenSurfacesHandler {
	return &OpenSurfacesHandler{Surfaces: surfaces}
}

func (h *OpenSurfacesHandler) Query(ctx context.Context, msg OpenSurfaces) ([]export.SurfaceInfo, error) {
	_ = ctx
	_ = msg
	if h == nil || h.Surfaces == nil {
		return nil, errors.New("surface registry is required", errors.CategoryInternal).
			WithTextCode("REGISTRY_REQUIRED")
	}
	infos := h.Surfaces.List()
	if infos == nil {
		infos = []export.SurfaceInfo{}
	}
	return infos, nil
}

// ListArtifactsHandler returns stored artifacts.
type ListArtifactsHandler struct {
	Artifacts ArtifactLister
}

func NewListArtifactsHandler(artifacts ArtifactLister) *ListArtifactsHandler {
	return &ListArtifactsHandler{Artifacts: artifacts}
}

func (h *ListArtifactsHandler) Query(ctx context.Context, msg ListArtifacts) ([]export.ArtifactRef, error) {
	if h == nil || h.Artifacts == nil {
		return nil, export.NewError(export.KindNotImpl, "artifact listing not configured", nil)
	}
	refs, err := h.Artifacts.List(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Limit > 0 && len(refs) > msg.Limit {
		refs = refs[len(refs)-msg.Limit:]
	}
	return refs, nil
}
