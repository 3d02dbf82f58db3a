package exportrouter

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/goliatone/go-command/dispatcher"
	printcmd "github.com/goliatone/go-pageprint/command"
	"github.com/goliatone/go-pageprint/export"
	printqry "github.com/goliatone/go-pageprint/query"
	"github.com/goliatone/go-router"
)

const (
	defaultExportLabel = "Exportar PDF"
	htmlContentType    = "text/html; charset=utf-8"
	octetContentType   = "application/octet-stream"
)

// Routes is the subset of router.Router the trigger registers on.
type Routes interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// PageSource is a host page that can be served and exported.
type PageSource interface {
	export.Host
	RenderWithOverlay(w io.Writer, overlay string) error
}

// ArtifactOpener reads stored artifacts.
type ArtifactOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, export.ArtifactMeta, error)
}

// Config configures the router trigger.
type Config struct {
	Page PageSource
	// Artifacts serves printed output back to the caller.
	Artifacts ArtifactOpener
	// PreviewOpener backs ?format=html exports. Defaults to memory surfaces.
	PreviewOpener export.SurfaceOpener
	// Limiter bounds exports per client IP when set.
	Limiter     *export.RateLimiter
	BasePath    string
	ExportLabel string
	Logger      export.Logger
}

// Handler serves the host page and the export routes.
type Handler struct {
	page          PageSource
	artifacts     ArtifactOpener
	previewOpener export.SurfaceOpener
	limiter       *export.RateLimiter
	basePath      string
	label         string
	logger        export.Logger
}

// NewHandler creates a router trigger handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = export.NopLogger{}
	}
	previewOpener := cfg.PreviewOpener
	if previewOpener == nil {
		previewOpener = export.SurfaceOpenerFunc(func(ctx context.Context) (export.Surface, error) {
			return export.NewMemorySurface(), nil
		})
	}
	label := strings.TrimSpace(cfg.ExportLabel)
	if label == "" {
		label = defaultExportLabel
	}
	return &Handler{
		page:          cfg.Page,
		artifacts:     cfg.Artifacts,
		previewOpener: previewOpener,
		limiter:       cfg.Limiter,
		basePath:      normalizeBasePath(cfg.BasePath),
		label:         label,
		logger:        logger,
	}
}

// RegisterRoutes registers the trigger routes on r.
func (h *Handler) RegisterRoutes(r Routes) {
	r.Get(h.basePath, h.HandlePage)
	r.Post(h.route("/export"), h.HandleExport)
	r.Get(h.route("/surfaces"), h.HandleSurfaces)
	r.Delete(h.route("/surfaces/:id"), h.HandleReleaseSurface)
	r.Get(h.route("/artifacts"), h.HandleArtifacts)
	r.Get(h.route("/artifacts/*"), h.HandleArtifact)
}

// HandlePage serves the host page with the export control overlay.
func (h *Handler) HandlePage(c router.Context) error {
	if h.page == nil {
		return h.writeError(c, export.NewError(export.KindNotImpl, "host page not configured", nil))
	}
	var buf bytes.Buffer
	if err := h.page.RenderWithOverlay(&buf, h.overlay()); err != nil {
		return h.writeError(c, export.NewError(export.KindInternal, "render host page", err))
	}
	c.SetHeader("Content-Type", htmlContentType)
	return c.Send(buf.Bytes())
}

// HandleExport runs an export and responds with the printed artifact.
func (h *Handler) HandleExport(c router.Context) error {
	ctx := c.Context()
	msg := printcmd.ExportDocument{Host: h.host()}

	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	switch format {
	case "", "pdf", "json":
	case "html":
		msg.Options = export.ExportOptions{Opener: h.previewOpener, ReleaseAfterPrint: true}
	default:
		return h.writeError(c, export.NewError(export.KindValidation, fmt.Sprintf("unsupported format %q", format), nil))
	}

	if err := h.limiter.Allow(c.IP()); err != nil {
		return h.writeError(c, err)
	}

	result, err := dispatcher.DispatchWithResult[printcmd.ExportDocument, export.Result](ctx, msg)
	if err != nil {
		return h.writeError(c, err)
	}
	h.logger.Infof("export %s: served format=%s sections=%d", result.ID, formatName(format), result.Sections)

	c.SetHeader("X-Export-ID", result.ID)
	if result.SurfaceID != "" {
		c.SetHeader("X-Surface-ID", result.SurfaceID)
	}

	switch {
	case format == "html":
		c.SetHeader("Content-Type", htmlContentType)
		return c.Send(result.Document)
	case format == "json" || result.Artifact.Key == "" || h.artifacts == nil:
		return c.JSON(http.StatusOK, toExport(result))
	default:
		return h.sendArtifact(c, result.Artifact.Key)
	}
}

// HandleSurfaces lists handed-off surfaces.
func (h *Handler) HandleSurfaces(c router.Context) error {
	infos, err := dispatcher.Query[printqry.OpenSurfaces, []export.SurfaceInfo](c.Context(), printqry.OpenSurfaces{})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toSurfaces(infos))
}

// HandleReleaseSurface releases one handed-off surface.
func (h *Handler) HandleReleaseSurface(c router.Context) error {
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return h.writeError(c, export.NewError(export.KindValidation, "invalid surface id", err))
	}
	if err := dispatcher.Dispatch(c.Context(), printcmd.ReleaseSurface{SurfaceID: id}); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleArtifacts lists stored artifacts.
func (h *Handler) HandleArtifacts(c router.Context) error {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return h.writeError(c, export.NewError(export.KindValidation, "limit must be a non-negative integer", err))
		}
		limit = parsed
	}
	refs, err := dispatcher.Query[printqry.ListArtifacts, []export.ArtifactRef](c.Context(), printqry.ListArtifacts{Limit: limit})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toArtifacts(refs))
}

// HandleArtifact streams one stored artifact.
func (h *Handler) HandleArtifact(c router.Context) error {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || strings.TrimSpace(key) == "" {
		return h.writeError(c, export.NewError(export.KindValidation, "artifact key is required", err))
	}
	return h.sendArtifact(c, key)
}

func (h *Handler) sendArtifact(c router.Context, key string) error {
	if h.artifacts == nil {
		return h.writeError(c, export.NewError(export.KindNotImpl, "artifact store not configured", nil))
	}
	reader, meta, err := h.artifacts.Open(c.Context(), key)
	if err != nil {
		return h.writeError(c, err)
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = octetContentType
	}
	filename := meta.Filename
	if filename == "" {
		filename = path.Base(key)
	}
	c.SetHeader("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.SetHeader("Content-Type", contentType)
	return c.SendStream(reader)
}

func (h *Handler) writeError(c router.Context, err error) error {
	ge := export.AsGoError(err)
	status := statusForError(ge)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.JSON(status, errorResponse{
		Error: errorBody{
			Message: ge.Message,
			Code:    ge.TextCode,
		},
	})
}

func (h *Handler) host() export.Host {
	if h.page == nil {
		return nil
	}
	return h.page
}

func (h *Handler) overlay() string {
	return fmt.Sprintf(
		`<div class="pageprint-overlay" style="position:fixed;right:1rem;bottom:1rem;z-index:2147483647">`+
			`<form method="post" action="%s"><button type="submit">%s</button></form></div>`,
		html.EscapeString(h.route("/export")),
		html.EscapeString(h.label),
	)
}

func (h *Handler) route(suffix string) string {
	if h.basePath == "/" {
		return suffix
	}
	return h.basePath + suffix
}

func normalizeBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return "/"
	}
	return "/" + strings.Trim(base, "/")
}

func formatName(format string) string {
	if format == "" {
		return "pdf"
	}
	return format
}
