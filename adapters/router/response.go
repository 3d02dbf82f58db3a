package exportrouter

import (
	"net/http"
	"time"

	errorslib "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pageprint/export"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type surfaceResponse struct {
	ID       string    `json:"id"`
	OpenedAt time.Time `json:"opened_at"`
	Printed  bool      `json:"printed"`
}

type surfacesResponse struct {
	Surfaces []surfaceResponse `json:"surfaces"`
}

type artifactResponse struct {
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Pages       int       `json:"pages,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type artifactsResponse struct {
	Artifacts []artifactResponse `json:"artifacts"`
}

type exportResponse struct {
	ID        string            `json:"id"`
	Sections  int               `json:"sections"`
	Styles    int               `json:"styles"`
	Printed   bool              `json:"printed"`
	SurfaceID string            `json:"surface_id,omitempty"`
	Artifact  *artifactResponse `json:"artifact,omitempty"`
}

func toSurfaces(infos []export.SurfaceInfo) surfacesResponse {
	out := surfacesResponse{Surfaces: make([]surfaceResponse, 0, len(infos))}
	for _, info := range infos {
		out.Surfaces = append(out.Surfaces, surfaceResponse{
			ID:       info.ID,
			OpenedAt: info.OpenedAt,
			Printed:  info.Printed,
		})
	}
	return out
}

func toArtifact(ref export.ArtifactRef) artifactResponse {
	return artifactResponse{
		Key:         ref.Key,
		Filename:    ref.Meta.Filename,
		ContentType: ref.Meta.ContentType,
		Size:        ref.Meta.Size,
		Pages:       ref.Meta.Pages,
		CreatedAt:   ref.Meta.CreatedAt,
	}
}

func toArtifacts(refs []export.ArtifactRef) artifactsResponse {
	out := artifactsResponse{Artifacts: make([]artifactResponse, 0, len(refs))}
	for _, ref := range refs {
		out.Artifacts = append(out.Artifacts, toArtifact(ref))
	}
	return out
}

func toExport(result export.Result) exportResponse {
	out := exportResponse{
		ID:        result.ID,
		Sections:  result.Sections,
		Styles:    result.Styles,
		Printed:   result.Printed,
		SurfaceID: result.SurfaceID,
	}
	if result.Artifact.Key != "" {
		artifact := toArtifact(result.Artifact)
		out.Artifact = &artifact
	}
	return out
}

func statusForError(err *errorslib.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.TextCode {
	case "not_implemented":
		return http.StatusNotImplemented
	case "content_not_mounted":
		return http.StatusUnprocessableEntity
	case "conflict":
		return http.StatusConflict
	case "rate_limited":
		return http.StatusTooManyRequests
	case "surface_unavailable":
		return http.StatusServiceUnavailable
	case "print_failed":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	case "canceled":
		return http.StatusRequestTimeout
	}
	switch err.Category {
	case errorslib.CategoryValidation:
		return http.StatusBadRequest
	case errorslib.CategoryAuthz:
		return http.StatusForbidden
	case errorslib.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
