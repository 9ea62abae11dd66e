package strategy

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

const (
	defaultBrowserTimeout  = 90 * time.Second
	defaultBrowserWaitTime = 5 * time.Second
	scrollRounds           = 3

	// Ephemeral debug ports live well above the registered range.
	debugPortBase = 40000
	debugPortSpan = 20000

	sessionDirPrefix = "tidings-browser-"
)

// Browser drives a headless browser session for pages that only render under
// JavaScript. Every fetch gets a unique working directory and debug port, and
// the session is released on every exit path. When the driver fails and the
// source allows it, one HTTP fallback runs the scrape extractor over a plain
// GET instead.
type Browser struct {
	cfg      domain.SourceConfig
	opts     domain.SourceOptions
	driver   ports.BrowserDriver
	fallback *Scrape
	logger   *logger.StyledLogger
}

func NewBrowser(cfg domain.SourceConfig, opts domain.SourceOptions, driver ports.BrowserDriver, deps Deps) *Browser {
	b := &Browser{
		cfg:    cfg,
		opts:   opts,
		driver: driver,
		logger: deps.Logger,
	}
	if opts.UseHTTPFallback {
		b.fallback = NewScrape(cfg, opts, deps)
	}
	return b
}

func (s *Browser) Kind() domain.SourceKind { return domain.KindBrowserAutomate }

func (s *Browser) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	items, err := s.fetchRendered(ctx)
	if err == nil {
		return items, nil
	}

	if s.fallback != nil {
		s.logger.WarnWithSource("browser fetch failed, trying http fallback", s.cfg.SourceID, "error", err)
		if items, fbErr := s.fallback.Fetch(ctx); fbErr == nil {
			return items, nil
		}
	}
	return nil, err
}

func (s *Browser) fetchRendered(ctx context.Context) ([]domain.NewsItem, error) {
	timeout := s.opts.BrowserTimeout
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := filepath.Join(os.TempDir(), sessionDirPrefix+uuid.NewString())

	userAgent := ""
	if len(s.opts.UserAgents) > 0 {
		userAgent = s.opts.UserAgents[0]
	}

	waitTime := s.opts.BrowserWaitTime
	if waitTime <= 0 {
		waitTime = defaultBrowserWaitTime
	}

	session, err := s.driver.Acquire(ctx, ports.BrowserOptions{
		Headless:  s.opts.Headless,
		WorkDir:   workDir,
		DebugPort: debugPortBase + rand.IntN(debugPortSpan),
		UserAgent: userAgent,
		WaitTime:  waitTime,
	})
	if err != nil {
		return nil, &domain.StrategyError{SourceID: s.cfg.SourceID, Err: err}
	}
	defer func() {
		if relErr := session.Release(); relErr != nil {
			s.logger.WarnWithSource("browser session release failed", s.cfg.SourceID, "error", relErr)
		}
		os.RemoveAll(workDir)
	}()

	if err := session.Navigate(ctx, s.cfg.URL); err != nil {
		return nil, &domain.StrategyError{SourceID: s.cfg.SourceID, Err: err}
	}
	if err := session.WaitReady(ctx, waitTime); err != nil {
		return nil, &domain.StrategyError{SourceID: s.cfg.SourceID, Err: err}
	}
	if err := session.ScrollToBottom(ctx, scrollRounds); err != nil {
		s.logger.Debug("scroll-to-load failed, extracting anyway", "source", s.cfg.SourceID, "error", err)
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, &domain.StrategyError{SourceID: s.cfg.SourceID, Err: err}
	}

	extractor := s.fallback
	if extractor == nil {
		extractor = NewScrape(s.cfg, s.opts, Deps{Logger: s.logger})
	}
	items, err := extractor.Extract(html)
	if err != nil {
		return nil, &domain.StrategyError{SourceID: s.cfg.SourceID, Err: err}
	}
	return items, nil
}

// SweepOrphanSessions removes leftover browser working directories and, when
// process inspection is available, terminates driver processes still holding
// one. Called on engine startup and shutdown.
func SweepOrphanSessions(log *logger.StyledLogger) int {
	pattern := filepath.Join(os.TempDir(), sessionDirPrefix+"*")
	dirs, err := filepath.Glob(pattern)
	if err != nil || len(dirs) == 0 {
		return 0
	}

	killed := killOrphanProcesses(dirs, log)

	removed := 0
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err == nil {
			removed++
		}
	}
	if removed > 0 || killed > 0 {
		log.Info("swept orphan browser sessions", "dirs", removed, "processes", killed)
	}
	return removed
}

// browserProcessNames matches the driver binaries a session may leave behind.
var browserProcessNames = []string{"chrome", "chromium", "chromedriver", "headless_shell"}

func isBrowserProcessName(name string) bool {
	name = strings.ToLower(name)
	for _, candidate := range browserProcessNames {
		if strings.Contains(name, candidate) {
			return true
		}
	}
	return false
}

func sessionDirArg(args []string, dirs []string) bool {
	for _, arg := range args {
		for _, dir := range dirs {
			if strings.Contains(arg, dir) {
				return true
			}
		}
	}
	return false
}
