// Package browser drives a Chrome tab over the DevTools protocol and exposes
// it to the engine as a dom.Page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/config"
)

// ErrProfileInUse is returned when another process holds the Chrome
// profile directory.
var ErrProfileInUse = errors.New("browser: profile directory is in use by another formpilot process")

// profileLockName is created inside the user data directory.
const profileLockName = "formpilot.lock"

// Session is one Chrome tab.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig
	stamp       string
	lock        *flock.Flock

	mu      sync.Mutex
	lastURL string

	closeOnce sync.Once
}

var _ dom.Page = (*Session)(nil)

// DefaultAllocatorOptions builds the launch flags for a local Chrome.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		dir, err := homedir.Expand(cfg.UserDataDir)
		if err != nil {
			dir = cfg.UserDataDir
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewSession launches Chrome, or attaches to cfg.RemoteURL, and opens a tab.
// Closing ctx tears the browser down.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("browser")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	var lock *flock.Flock
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
		log.Info("Attaching to running browser.", zap.String("remote_url", cfg.RemoteURL))
	} else {
		if cfg.UserDataDir != "" {
			l, err := lockProfileDir(cfg.UserDataDir)
			if err != nil {
				return nil, err
			}
			lock = l
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		unlock(lock, log)
		return nil, fmt.Errorf("browser: failed to start tab: %w", err)
	}

	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	return &Session{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
		stamp:       buildStampScript(),
		lock:        lock,
	}, nil
}

// lockProfileDir takes an exclusive lock on a Chrome user data directory so
// two engines never share one profile.
func lockProfileDir(dir string) (*flock.Flock, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		expanded = dir
	}
	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return nil, fmt.Errorf("browser: failed to create profile directory: %w", err)
	}
	lock := flock.New(filepath.Join(expanded, profileLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("browser: failed to lock profile directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrProfileInUse, expanded)
	}
	return lock, nil
}

func unlock(lock *flock.Flock, logger *zap.Logger) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logger.Warn("Failed to release profile lock.", zap.String("path", lock.Path()), zap.Error(err))
	}
}

// Close shuts the tab and, when it was launched here, the browser.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err = <-done:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		case <-shutdownCtx.Done():
			s.logger.Warn("Browser shutdown timed out.")
		}
		s.cancel()
		s.allocCancel()
		unlock(s.lock, s.logger)
	})
	return err
}

// run executes actions on the tab, bounded by both ctx and timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	opCtx, timeoutCancel := context.WithTimeout(opCtx, timeout)
	defer timeoutCancel()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	var location string
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		return fmt.Errorf("browser: navigation to %s failed: %w", url, err)
	}
	s.setURL(location)
	return nil
}

// URL returns the tab's location, falling back to the last one seen.
func (s *Session) URL() string {
	var location string
	if err := s.run(context.Background(), s.cfg.ActionTimeout, chromedp.Location(&location)); err == nil {
		s.setURL(location)
		return location
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}

func (s *Session) setURL(u string) {
	s.mu.Lock()
	s.lastURL = u
	s.mu.Unlock()
}

// Snapshot stamps the document and parses the annotated HTML.
func (s *Session) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	var html, location string
	if err := s.run(ctx, s.cfg.ActionTimeout,
		chromedp.Location(&location),
		chromedp.Evaluate(s.stamp, &html),
	); err != nil {
		return nil, fmt.Errorf("browser: snapshot failed: %w", err)
	}
	s.setURL(location)
	return dom.ParseSnapshot(location, strings.NewReader(html))
}

// call applies one element operation and maps its status to an error.
func (s *Session) call(ctx context.Context, h dom.Handle, op string, args ...any) (string, error) {
	expr, err := elementCall(h, op, args...)
	if err != nil {
		return "", err
	}
	var status string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, &status)); err != nil {
		return "", fmt.Errorf("browser: element %s: %w", h, err)
	}
	return status, nil
}

func (s *Session) do(ctx context.Context, h dom.Handle, op string, args ...any) error {
	status, err := s.call(ctx, h, op, args...)
	if err != nil {
		return err
	}
	switch status {
	case "":
		return nil
	case missing:
		return fmt.Errorf("%w: %s", dom.ErrNoElement, h)
	default:
		return fmt.Errorf("browser: element %s: %s", h, status)
	}
}

func (s *Session) Visible(ctx context.Context, h dom.Handle) (bool, error) {
	status, err := s.call(ctx, h, opVisible)
	if err != nil {
		return false, err
	}
	return status == "", nil
}

func (s *Session) Focus(ctx context.Context, h dom.Handle) error {
	return s.do(ctx, h, opFocus)
}

func (s *Session) Clear(ctx context.Context, h dom.Handle) error {
	return s.do(ctx, h, opClear)
}

// TypeRune inserts r at the end of the focused control. Chrome dispatches
// the input event itself.
func (s *Session) TypeRune(ctx context.Context, h dom.Handle, r rune) error {
	if err := s.do(ctx, h, opCaretEnd); err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.ActionTimeout, input.InsertText(string(r))); err != nil {
		return fmt.Errorf("browser: typing into %s: %w", h, err)
	}
	return nil
}

func (s *Session) Dispatch(ctx context.Context, h dom.Handle, ev dom.Event) error {
	return s.do(ctx, h, opDispatch, string(ev))
}

func (s *Session) SetChecked(ctx context.Context, h dom.Handle, checked bool) error {
	return s.do(ctx, h, opSetChecked, checked)
}

func (s *Session) SelectIndex(ctx context.Context, h dom.Handle, idx int) error {
	return s.do(ctx, h, opSelectIndex, idx)
}

func (s *Session) Click(ctx context.Context, h dom.Handle) error {
	return s.do(ctx, h, opClick)
}

func (s *Session) Highlight(ctx context.Context, h dom.Handle, color string, d time.Duration) error {
	return s.do(ctx, h, opHighlight, color, d.Milliseconds())
}

// combineContext derives from primary, keeping its chromedp values, and is
// also cancelled when secondary is done.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
