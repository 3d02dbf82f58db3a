package exportchromium

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/goliatone/go-pageprint/adapters/pdfmeta"
	"github.com/goliatone/go-pageprint/export"
	"github.com/google/uuid"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultKeyPrefix    = "exports"
)

const (
	readyStateScript  = `document.readyState`
	imagesReadyScript = `Array.from(document.images).every(function (img) { return img.complete; })`
)

// Engine opens print surfaces as tabs of a shared headless Chromium instance.
type Engine struct {
	BrowserPath string
	Headless    bool
	// Timeout bounds each browser round trip.
	Timeout time.Duration
	Args    []string
	// PollInterval is the delay between readiness checks.
	PollInterval time.Duration

	PDF export.PDFOptions
	// Sink receives printed PDFs. Without one the bytes stay on the surface.
	Sink      export.PrintSink
	KeyPrefix string
	Now       func() time.Time
	// FilenamePattern names the download; see export.RenderFilename.
	FilenamePattern string

	initOnce      sync.Once
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// OpenSurface allocates a blank tab.
func (e *Engine) OpenSurface(ctx context.Context) (export.Surface, error) {
	if e == nil {
		return nil, export.NewError(export.KindInternal, "chromium engine is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.ensureBrowser(); err != nil {
		return nil, export.NewError(export.KindSurfaceUnavailable, "chromium engine init failed", err)
	}

	options := export.MergePDFOptions(export.DefaultPDFOptions(), e.PDF)
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)

	actions := []chromedp.Action{}
	if options.ExternalAssetsPolicy == export.PDFExternalAssetsBlock {
		actions = append(actions,
			network.Enable(),
			network.SetBlockedURLs().WithURLPatterns(blockedURLPatterns()),
		)
	}
	actions = append(actions, chromedp.Navigate("about:blank"))

	// The first run allocates the tab, so it must use tabCtx itself.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	var timer *time.Timer
	if e.Timeout > 0 {
		timer = time.AfterFunc(e.Timeout, cancel)
	}
	err := chromedp.Run(tabCtx, actions...)
	close(done)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, export.NewError(export.KindSurfaceUnavailable, "chromium tab open failed", err)
	}

	return &Surface{
		engine:  e,
		id:      uuid.NewString(),
		tabCtx:  tabCtx,
		cancel:  cancel,
		options: options,
	}, nil
}

// Close releases Chromium resources if they have been initialized.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	if e.browserCancel != nil {
		e.browserCancel()
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}
	return nil
}

func (e *Engine) ensureBrowser() error {
	e.initOnce.Do(func() {
		options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if e.BrowserPath != "" {
			options = append(options, chromedp.ExecPath(e.BrowserPath))
		}
		options = append(options, chromedp.Flag("headless", e.Headless))
		options = append(options, allocatorOptionsFromArgs(e.Args)...)

		e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), options...)
		e.browserCtx, e.browserCancel = chromedp.NewContext(e.allocCtx)
	})
	if e.allocCtx == nil || e.browserCtx == nil {
		return errors.New("chromium allocator unavailable")
	}
	return nil
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

// Surface is a Chromium tab holding one print document.
type Surface struct {
	engine  *Engine
	id      string
	tabCtx  context.Context
	cancel  context.CancelFunc
	options export.PDFOptions

	mu          sync.Mutex
	buf         bytes.Buffer
	docClosed   bool
	pdf         []byte
	artifact    export.ArtifactRef
	hasArtifact bool
	closeOnce   sync.Once
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

// CloseDocument loads the buffered markup into the tab.
func (s *Surface) CloseDocument(ctx context.Context) error {
	s.mu.Lock()
	if s.docClosed {
		s.mu.Unlock()
		return nil
	}
	s.docClosed = true
	markup := export.InjectBaseURL(s.buf.Bytes(), s.options.BaseURL)
	s.mu.Unlock()

	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, string(markup)).Do(ctx)
	}))
}

func (s *Surface) ReadyState(ctx context.Context) (export.ReadyState, error) {
	var state string
	if err := s.run(ctx, chromedp.Evaluate(readyStateScript, &state)); err != nil {
		return "", err
	}
	return export.ReadyState(state), nil
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
		err := s.run(ctx, chromedp.Evaluate(imagesReadyScript, &ready))
		return ready, err
	})
}

func (s *Surface) Focus(ctx context.Context) error {
	return s.run(ctx, page.BringToFront())
}

// Print renders the tab to PDF and stores it in the engine sink.
func (s *Surface) Print(ctx context.Context) error {
	params, err := buildPrintToPDFParams(s.options)
	if err != nil {
		return err
	}

	var pdf []byte
	err = s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var printErr error
		pdf, _, printErr = params.Do(ctx)
		return printErr
	}))
	if err != nil {
		return export.NewError(export.KindPrintFailed, "chromium print failed", err)
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

// Close closes the tab.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
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

func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if ctx == nil {
		ctx = context.Background()
	}
	execCtx, cancelReq := context.WithCancel(s.tabCtx)
	defer cancelReq()
	go func() {
		select {
		case <-ctx.Done():
			cancelReq()
		case <-execCtx.Done():
		}
	}()
	if s.engine.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(execCtx, s.engine.Timeout)
		defer cancelTimeout()
	}

	if err := chromedp.Run(execCtx, actions...); err != nil {
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

func buildPrintToPDFParams(opts export.PDFOptions) (*page.PrintToPDFParams, error) {
	layout, err := export.ResolvePDFLayout(opts)
	if err != nil {
		return nil, err
	}
	params := page.PrintToPDF().
		WithScale(layout.Scale).
		WithLandscape(layout.Landscape).
		WithPrintBackground(layout.PrintBackground).
		WithPreferCSSPageSize(layout.PreferCSSPageSize)
	if layout.PaperWidth != nil && layout.PaperHeight != nil {
		params = params.WithPaperWidth(*layout.PaperWidth).WithPaperHeight(*layout.PaperHeight)
	}
	if layout.MarginTop != nil {
		params = params.WithMarginTop(*layout.MarginTop)
	}
	if layout.MarginBottom != nil {
		params = params.WithMarginBottom(*layout.MarginBottom)
	}
	if layout.MarginLeft != nil {
		params = params.WithMarginLeft(*layout.MarginLeft)
	}
	if layout.MarginRight != nil {
		params = params.WithMarginRight(*layout.MarginRight)
	}
	return params, nil
}

// blockedURLPatterns blocks every http and https request on any port.
func blockedURLPatterns() []*network.BlockPattern {
	return []*network.BlockPattern{
		{URLPattern: "http://*:*/*", Block: true},
		{URLPattern: "https://*:*/*", Block: true},
	}
}

func allocatorOptionsFromArgs(args []string) []chromedp.ExecAllocatorOption {
	options := make([]chromedp.ExecAllocatorOption, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			options = append(options, chromedp.Flag(name, value))
			continue
		}
		options = append(options, chromedp.Flag(arg, true))
	}
	return options
}
