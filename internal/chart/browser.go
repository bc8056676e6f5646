package chart

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserRasterizer screenshots the SVG in headless Chrome, which keeps
// text labels. The browser starts on first use and stays open until Close.
type BrowserRasterizer struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	timeout       time.Duration
}

func NewBrowserRasterizer() *BrowserRasterizer {
	return &BrowserRasterizer{timeout: 60 * time.Second}
}

func (b *BrowserRasterizer) initBrowser() error {
	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("hide-scrollbars", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *BrowserRasterizer) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

func (b *BrowserRasterizer) Rasterize(ctx context.Context, svg []byte, width, height int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.initBrowser(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	defer tabCancel()
	actionCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	url := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(svg)
	var buf []byte
	err := chromedp.Run(actionCtx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(url),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("browser screenshot failed: %w", err)
	}
	return buf, nil
}

func (b *BrowserRasterizer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	return nil
}
