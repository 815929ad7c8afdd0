// internal/auth/auth_test.go
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/studypilot/api/schemas"
	"github.com/xkilldash9x/studypilot/internal/browser/dom"
	"github.com/xkilldash9x/studypilot/internal/config"
	"github.com/xkilldash9x/studypilot/internal/resolver"
)

const (
	loginURL  = "http://course.test/user/index.php"
	actionURL = "http://course.test/user/login.php"
)

const loginForm = `<html><body>
<form method="post" action="login.php">
  <input type="text" id="username" name="username">
  <input type="password" id="password" name="password">
  <input type="submit" name="submit" value="登录">
</form></body></html>`

func newAuthenticator(t *testing.T, mutate func(*config.AuthConfig)) *Authenticator {
	t.Helper()
	cfg := config.NewDefaultConfig().Auth()
	cfg.LoginURL = loginURL
	cfg.Username, cfg.Password = "student", "s3cret"
	cfg.FieldTimeout = 20 * time.Millisecond
	cfg.SettleTimeout = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zaptest.NewLogger(t)
	return New(logger, resolver.New(logger), resolver.DefaultCatalog(), cfg)
}

func TestLogin_Success(t *testing.T) {
	site := dom.NewSite()
	site.Handle(loginURL, loginForm)
	site.Handle(actionURL, `<html><body><p>登录成功</p><a href="my_info.php">me</a></body></html>`)
	page := dom.NewPage(site)

	ok, err := newAuthenticator(t, nil).Login(context.Background(), page, "student", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	subs := site.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "POST", subs[0].Method)
	assert.Equal(t, "student", subs[0].Form.Get("username"))
	assert.Equal(t, "s3cret", subs[0].Form.Get("password"))
	assert.Equal(t, "登录", subs[0].Form.Get("submit"))
}

func TestLogin_NoMarkerIsUnconfirmed(t *testing.T) {
	site := dom.NewSite()
	site.Handle(loginURL, loginForm)
	site.Handle(actionURL, `<html><body><p>用户名或密码错误</p></body></html>`).NeverSettles()
	page := dom.NewPage(site)

	a := newAuthenticator(t, nil)
	ok, err := a.Login(context.Background(), page, "student", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	strict := newAuthenticator(t, func(c *config.AuthConfig) { c.ContinueOnUncertain = false })
	assert.ErrorIs(t, strict.RequireLogin(context.Background(), page), ErrUncertain)

	lenient := newAuthenticator(t, func(c *config.AuthConfig) { c.ContinueOnUncertain = true })
	assert.NoError(t, lenient.RequireLogin(context.Background(), page))
}

func TestLogin_MissingFields(t *testing.T) {
	site := dom.NewSite()
	site.Handle(loginURL, `<html><body><p>maintenance</p></body></html>`)
	page := dom.NewPage(site)

	ok, err := newAuthenticator(t, nil).Login(context.Background(), page, "student", "s3cret")
	assert.False(t, ok)
	assert.ErrorIs(t, err, schemas.ErrNotFound)
	assert.Contains(t, err.Error(), resolver.RoleLoginUsername)
}

func TestLogin_SessionLost(t *testing.T) {
	site := dom.NewSite()
	site.Handle(loginURL, loginForm).ClosesSession()
	page := dom.NewPage(site)

	ok, err := newAuthenticator(t, nil).Login(context.Background(), page, "student", "s3cret")
	assert.False(t, ok)
	assert.ErrorIs(t, err, schemas.ErrSessionLost)
}
