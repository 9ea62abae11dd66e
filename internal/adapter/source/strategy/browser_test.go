package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
)

type fakeSession struct {
	html        string
	navigateErr error
	htmlErr     error
	released    atomic.Bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error { return f.navigateErr }
func (f *fakeSession) WaitReady(ctx context.Context, timeout time.Duration) error {
	return nil
}
func (f *fakeSession) ScrollToBottom(ctx context.Context, rounds int) error { return nil }
func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	return f.html, f.htmlErr
}
func (f *fakeSession) Release() error {
	f.released.Store(true)
	return nil
}

type fakeDriver struct {
	session    *fakeSession
	acquireErr error
	lastOpts   ports.BrowserOptions
}

func (f *fakeDriver) Acquire(ctx context.Context, opts ports.BrowserOptions) (ports.BrowserSession, error) {
	f.lastOpts = opts
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return f.session, nil
}

const renderedHTML = `<li class="s"><a href="/stories/1">Rendered Story</a></li>`

func browserSource(driver ports.BrowserDriver, httpFallback bool, fetcher *fakeFetcher) *Browser {
	return NewBrowser(domain.SourceConfig{
		SourceID: "browser-src",
		Name:     "Browser Source",
		URL:      "https://spa.example.com/list",
	}, domain.SourceOptions{
		Selectors:       domain.SelectorMap{Item: "li.s", Link: "a"},
		UseHTTPFallback: httpFallback,
		Headless:        true,
	}, driver, testDeps(fetcher))
}

func TestBrowser_FetchRendered(t *testing.T) {
	session := &fakeSession{html: renderedHTML}
	driver := &fakeDriver{session: session}

	items, err := browserSource(driver, false, &fakeFetcher{}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Rendered Story", items[0].Title)
	assert.Equal(t, "https://spa.example.com/stories/1", items[0].URL)

	assert.True(t, session.released.Load(), "session must be released")
	assert.True(t, driver.lastOpts.Headless)
	assert.NotEmpty(t, driver.lastOpts.WorkDir, "session needs its own working directory")
	assert.NotZero(t, driver.lastOpts.DebugPort)
}

func TestBrowser_ReleasedOnExtractError(t *testing.T) {
	session := &fakeSession{htmlErr: errors.New("tab crashed")}
	driver := &fakeDriver{session: session}

	_, err := browserSource(driver, false, &fakeFetcher{}).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, session.released.Load(), "release must run on the error path")

	var se *domain.StrategyError
	assert.ErrorAs(t, err, &se)
}

func TestBrowser_UniqueWorkDirs(t *testing.T) {
	session := &fakeSession{html: renderedHTML}
	driver := &fakeDriver{session: session}
	src := browserSource(driver, false, &fakeFetcher{})

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	first := driver.lastOpts.WorkDir

	_, err = src.Fetch(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first, driver.lastOpts.WorkDir)
}

func TestBrowser_HTTPFallback(t *testing.T) {
	driver := &fakeDriver{acquireErr: errors.New("no driver binary")}
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://spa.example.com/list": renderedHTML,
	}}

	items, err := browserSource(driver, true, fetcher).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Rendered Story", items[0].Title)
}

func TestBrowser_NoFallbackSurfacesError(t *testing.T) {
	driver := &fakeDriver{acquireErr: errors.New("no driver binary")}

	_, err := browserSource(driver, false, &fakeFetcher{}).Fetch(context.Background())
	assert.Error(t, err)
}
