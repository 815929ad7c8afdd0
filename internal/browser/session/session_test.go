// internal/browser/session/session_test.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser"
	"github.com/xkilldash9x/studypilot/internal/config"
)

func TestAllocatorOptions(t *testing.T) {
	base := config.BrowserConfig{}
	baseline := len(AllocatorOptions(base))

	full := config.BrowserConfig{
		Headless:       true,
		ExecPath:       "/usr/bin/chromium",
		UserAgent:      "studypilot-test",
		Locale:         "zh-CN",
		ViewportWidth:  1280,
		ViewportHeight: 900,
		Args:           []string{"--disable-dev-shm-usage", "proxy-server=http://127.0.0.1:8080"},
	}
	assert.Len(t, AllocatorOptions(full), baseline+7)
}

func TestScripts(t *testing.T) {
	js, err := locateScript("css", `a[href*="x"]`, "完成", 4)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(js, `("css", "a[href*=\"x\"]", "完成", 4)`), js)
	assert.Contains(t, js, refAttr)

	js, err = elementScript("g4-e2", attributeBody, "onclick")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(js, `("g4-e2", "onclick")`), js)
	assert.Contains(t, js, "el.hasAttribute(arg)")

	js, err = elementScript("g1-e1", textBody, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(js, `("g1-e1", null)`), js)
}

func TestIsTargetGone(t *testing.T) {
	assert.True(t, isTargetGone(chromedp.ErrInvalidContext))
	assert.True(t, isTargetGone(fmt.Errorf("wrapped: %w", chromedp.ErrChannelClosed)))
	assert.True(t, isTargetGone(errors.New("Target closed.")))
	assert.False(t, isTargetGone(errors.New("page load error net::ERR_NAME_NOT_RESOLVED")))
}

func TestSession_OnEvent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	s := &Session{ctx: context.Background(), logger: logger, idle: newIdleTracker(logger, 0)}
	s.generation.Store(1)

	s.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "child", ParentID: "main"}})
	assert.Equal(t, uint64(1), s.generation.Load(), "subframe navigations keep refs valid")
	s.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main"}})
	assert.Equal(t, uint64(2), s.generation.Load())

	assert.False(t, s.IsClosed())
	s.onEvent(&inspector.EventDetached{Reason: "Render process gone."})
	assert.True(t, s.IsClosed())
	s.onEvent(&inspector.EventTargetCrashed{})

	entries := logs.FilterMessage("Browser tab is gone.").All()
	require.Len(t, entries, 1, "only the first closure is logged")
	assert.Equal(t, "Render process gone.", entries[0].ContextMap()["reason"])
}

// chromeOrSkip starts a real browser, or skips when none is installed.
func chromeOrSkip(t *testing.T) *Session {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	found := false
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome binary available")
	}

	cfg := config.NewDefaultConfig().Browser()
	cfg.Headless = true
	cfg.NetworkIdle = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_Integration(t *testing.T) {
	s := chromeOrSkip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/list":
			fmt.Fprint(w, `<html><body>
			  <a id="done" style="color: rgb(0, 128, 0)" href="/next">Done</a>
			  <select id="d"><option value="0">-</option><option value="1">1</option></select>
			  <input id="f" type="text">
			  <input type="button" value="完成本节学习">
			</body></html>`)
		default:
			fmt.Fprint(w, `<html><body><p id="next">next</p></body></html>`)
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, s.Goto(ctx, srv.URL+"/list", browser.WaitLoad))
	require.NoError(t, s.WaitFor(ctx, browser.Condition{State: browser.WaitNetworkIdle}, 5*time.Second))

	refs, err := s.Locate(ctx, browser.CSS("#done"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	cs, err := s.ComputedStyle(ctx, refs[0])
	require.NoError(t, err)
	assert.Equal(t, "rgb(0, 128, 0)", cs.Color)

	finish, err := s.Locate(ctx, browser.CSS("input").WithText("完成本节"))
	require.NoError(t, err)
	assert.Len(t, finish, 1)

	sel, err := s.Locate(ctx, browser.CSS("#d"))
	require.NoError(t, err)
	require.NoError(t, s.SelectOption(ctx, sel[0], "1"))
	assert.Error(t, s.SelectOption(ctx, sel[0], "7"))

	field, err := s.Locate(ctx, browser.CSS("#f"))
	require.NoError(t, err)
	require.NoError(t, s.Fill(ctx, field[0], "12"))

	require.NoError(t, s.Click(ctx, refs[0], browser.ClickOptions{}))
	next := browser.CSS("#next")
	require.NoError(t, s.WaitFor(ctx, browser.Condition{State: browser.WaitLoad, Locator: &next}, 10*time.Second))

	_, err = s.Text(ctx, refs[0])
	assert.ErrorIs(t, err, browser.ErrStaleElement)

	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.Goto(ctx, srv.URL+"/list", browser.WaitLoad), schemas.ErrSessionLost)
}
