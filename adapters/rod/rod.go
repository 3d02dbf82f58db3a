package exportrod

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/goliatone/go-pageprint/adapters/pdfmeta"
	"github.com/goliatone/go-pageprint/export"
	"github.com/google/uuid"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultKeyPrefix    = "exports"
)

const (
	readyStateScript  = `() => document.readyState`
	imagesReadyScript = `() => Array.from(document.images).every((img) => img.complete)`
)

// Engine opens print surfaces on a browser launched or reached through rod.
type Engine struct {
	// ControlURL connects to a running browser instead of launching one.
	ControlURL  string
	BrowserPath string
	Headless    bool
	Timeout     time.Duration
	Args        []string
	// PollInterval is the delay between readiness checks.
	PollInterval time.Duration

	PDF       export.PDFOptions
	Sink      export.PrintSink
	KeyPrefix string
	Now       func() time.Time
	// FilenamePattern names the download; see export.RenderFilename.
	FilenamePattern string

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// OpenSurface creates a blank page.
func (e *Engine) OpenSurface(ctx context.Context) (export.Surface, error) {
	if e == nil {
		return nil, export.NewError(export.KindInternal, "rod engine is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	browser, err := e.ensureBrowser()
	if err != nil {
		return nil, export.NewError(export.KindSurfaceUnavailable, "rod engine init failed", err)
	}

	options := export.MergePDFOptions(export.DefaultPDFOptions(), e.PDF)
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, export.NewError(export.KindSurfaceUnavailable, "rod page open failed", err)
	}

	if options.ExternalAssetsPolicy == export.PDFExternalAssetsBlock {
		if err := blockExternalAssets(page); err != nil {
			_ = page.Close()
			return nil, export.NewError(export.KindSurfaceUnavailable, "rod asset blocking failed", err)
		}
	}

	return &Surface{
		engine:  e,
		id:      uuid.NewString(),
		page:    page.Context(context.Background()),
		options: options,
	}, nil
}

// Close disconnects from the browser and kills it when it was launched here.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
		e.launcher = nil
	}
	return err
}

func (e *Engine) ensureBrowser() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil {
		return e.browser, nil
	}

	controlURL := strings.TrimSpace(e.ControlURL)
	if controlURL == "" {
		l := launcher.New().Headless(e.Headless)
		if e.BrowserPath != "" {
			l = l.Bin(e.BrowserPath)
		}
		for name, values := range launcherFlags(e.Args) {
			l = l.Set(flags.Flag(name), values...)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, err
		}
		controlURL = u
		e.launcher = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	e.browser = browser
	return browser, nil
}

func (e *Engine) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return defaultPollInterval
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) key(id string) string {
	prefix := strings.Trim(e.KeyPrefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return path.Join(prefix, id+".pdf")
}

// Surface is a rod page holding one print document.
type Surface struct {
	engine  *Engine
	id      string
	page    *rod.Page
	options export.PDFOptions

	mu          sync.Mutex
	buf         bytes.Buffer
	docClosed   bool
	pdf         []byte
	artifact    export.ArtifactRef
	hasArtifact bool
	closeOnce   sync.Once
	closeErr    error
}

func (s *Surface) Write(ctx context.Context, markup []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docClosed {
		return export.NewError(export.KindInternal, "surface document is closed", nil)
	}
	_, err := s.buf.Write(markup)
	return err
}

// CloseDocument loads the buffered markup into the page.
func (s *Surface) CloseDocument(ctx context.Context) error {
	s.mu.Lock()
	if s.docClosed {
		s.mu.Unlock()
		return nil
	}
	s.docClosed = true
	markup := string(export.InjectBaseURL(s.buf.Bytes(), s.options.BaseURL))
	s.mu.Unlock()

	return s.call(ctx, func(p *rod.Page) error {
		return p.SetDocumentContent(markup)
	})
}

func (s *Surface) ReadyState(ctx context.Context) (export.ReadyState, error) {
	var state string
	err := s.call(ctx, func(p *rod.Page) error {
		res, err := p.Eval(readyStateScript)
		if err != nil {
			return err
		}
		state = res.Value.Str()
		return nil
	})
	return export.ReadyState(state), err
}

// WaitLoad polls the document ready state until it reports complete.
func (s *Surface) WaitLoad(ctx context.Context) error {
	return s.poll(ctx, func() (bool, error) {
		state, err := s.ReadyState(ctx)
		return state == export.ReadyComplete, err
	})
}

// WaitImages polls until every image in the document has settled.
func (s *Surface) WaitImages(ctx context.Context) error {
	return s.poll(ctx, func() (bool, error) {
		var ready bool
		err := s.call(ctx, func(p *rod.Page) error {
			res, err := p.Eval(imagesReadyScript)
			if err != nil {
				return err
			}
			ready = res.Value.Bool()
			return nil
		})
		return ready, err
	})
}

func (s *Surface) Focus(ctx context.Context) error {
	return s.call(ctx, func(p *rod.Page) error {
		_, err := p.Activate()
		return err
	})
}

// Print renders the page to PDF and stores it in the engine sink.
func (s *Surface) Print(ctx context.Context) error {
	req, err := printRequest(s.options)
	if err != nil {
		return err
	}

	var pdf []byte
	err = s.call(ctx, func(p *rod.Page) error {
		stream, err := p.PDF(req)
		if err != nil {
			return err
		}
		pdf, err = io.ReadAll(stream)
		return err
	})
	if err != nil {
		return export.NewError(export.KindPrintFailed, "rod print failed", err)
	}

	pages, err := pdfmeta.PageCount(pdf)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pdf = pdf
	s.mu.Unlock()

	if s.engine.Sink == nil {
		return nil
	}

	key := s.engine.key(s.id)
	filename, err := export.RenderFilename(s.engine.FilenamePattern, s.id, s.engine.now(), "pdf")
	if err != nil {
		filename = path.Base(key)
	}
	ref, err := s.engine.Sink.Put(ctx, key, bytes.NewReader(pdf), export.ArtifactMeta{
		Filename:    filename,
		ContentType: pdfmeta.ContentType,
		Size:        int64(len(pdf)),
		Pages:       pages,
		CreatedAt:   s.engine.now(),
	})
	if err != nil {
		return export.NewError(export.KindPrintFailed, "store printed pdf", err)
	}

	s.mu.Lock()
	s.artifact = ref
	s.hasArtifact = true
	s.mu.Unlock()
	return nil
}

// Close closes the page.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		if s.page != nil {
			s.closeErr = s.page.Close()
		}
	})
	return s.closeErr
}

// Artifact returns the stored output of the last successful print.
func (s *Surface) Artifact() (export.ArtifactRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, s.hasArtifact
}

// PDF returns the bytes of the last successful print.
func (s *Surface) PDF() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pdf...)
}

func (s *Surface) call(ctx context.Context, fn func(p *rod.Page) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	page := s.page.Context(ctx)
	if s.engine.Timeout > 0 {
		page = page.Timeout(s.engine.Timeout)
	}
	if err := fn(page); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *Surface) poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(s.engine.pollInterval())
	defer ticker.Stop()
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printRequest(opts export.PDFOptions) (*proto.PagePrintToPDF, error) {
	layout, err := export.ResolvePDFLayout(opts)
	if err != nil {
		return nil, err
	}
	return &proto.PagePrintToPDF{
		Landscape:         layout.Landscape,
		PrintBackground:   layout.PrintBackground,
		PreferCSSPageSize: layout.PreferCSSPageSize,
		Scale:             &layout.Scale,
		PaperWidth:        layout.PaperWidth,
		PaperHeight:       layout.PaperHeight,
		MarginTop:         layout.MarginTop,
		MarginBottom:      layout.MarginBottom,
		MarginLeft:        layout.MarginLeft,
		MarginRight:       layout.MarginRight,
	}, nil
}

func blockExternalAssets(page *rod.Page) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return err
	}
	return proto.NetworkSetBlockedURLs{Urls: []string{"http://*", "https://*"}}.Call(page)
}

func launcherFlags(args []string) map[string][]string {
	out := map[string][]string{}
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			out[name] = nil
			continue
		}
		out[name] = append(out[name], value)
	}
	return out
}
