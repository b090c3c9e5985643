package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/config"
)

func TestDefaultAllocatorOptions(t *testing.T) {
	t.Run("Headed", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{})
		assert.NotEmpty(t, opts)
		assert.Len(t, opts, 5)
	})

	t.Run("Headless", func(t *testing.T) {
		headed := DefaultAllocatorOptions(config.BrowserConfig{})
		headless := DefaultAllocatorOptions(config.BrowserConfig{Headless: true})
		assert.Len(t, headless, len(headed)+2)
	})

	t.Run("WindowAndPaths", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			ExecPath:     "/opt/chrome/chrome",
			UserDataDir:  "/tmp/fp-profile",
			WindowWidth:  1280,
			WindowHeight: 800,
		})
		assert.Len(t, opts, 8)
	})

	t.Run("CustomArgs", func(t *testing.T) {
		base := DefaultAllocatorOptions(config.BrowserConfig{})
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			Args: []string{"--lang=en-US", "--mute-audio"},
		})
		assert.Len(t, opts, len(base)+2)
	})
}

func TestLockProfileDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")

	first, err := lockProfileDir(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, profileLockName))

	_, err = lockProfileDir(dir)
	assert.ErrorIs(t, err, ErrProfileInUse)

	unlock(first, zap.NewNop())
	second, err := lockProfileDir(dir)
	require.NoError(t, err)
	unlock(second, zap.NewNop())
}

func TestElementCall(t *testing.T) {
	expr, err := elementCall("ab12cd-7", opHighlight, "#fff3a0", int64(1200))
	require.NoError(t, err)
	assert.Contains(t, expr, `document.querySelector("[data-fp-id=\"ab12cd-7\"]")`)
	assert.Contains(t, expr, `return "missing"`)
	assert.True(t, strings.HasSuffix(expr, `, "#fff3a0", 1200); })()`), expr)

	expr, err = elementCall("x-1", opClick)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(expr, "(el); })()"), expr)
}

func TestStampScriptNamesAttributes(t *testing.T) {
	script := buildStampScript()
	for _, attr := range []string{dom.HandleAttr, dom.WidthAttr, dom.HeightAttr, dom.ValueAttr, dom.CheckedAttr} {
		assert.Contains(t, script, `"`+attr+`"`)
	}
	assert.Contains(t, script, `"`+dom.InteractiveSelector+`"`)
	assert.NotContains(t, script, "%!")
}

const fixtureHTML = `<!doctype html><html><body>
<form id="application_form">
  <label for="first">First name</label><input id="first" name="first_name">
  <label for="country">Country</label>
  <select id="country"><option value="">Choose</option><option value="ca">Canada</option></select>
  <label><input type="checkbox" id="terms"> I agree</label>
  <input id="secret" style="display:none">
  <p id="gone" style="display:none">Review your application</p>
  <button type="button" id="next" onclick="document.body.setAttribute('data-step', '2')">Next</button>
</form>
</body></html>`

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestSessionDrivesRealPage(t *testing.T) {
	if testing.Short() || !chromeAvailable() {
		t.Skip("requires a local Chrome")
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixtureHTML)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s, err := NewSession(ctx, config.BrowserConfig{Headless: true, WindowWidth: 1280, WindowHeight: 800}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Navigate(ctx, server.URL))
	assert.True(t, strings.HasPrefix(s.URL(), server.URL))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	first := dom.HandleOf(snap.Doc.Find("#first"))
	require.NotEmpty(t, first)
	assert.True(t, dom.Rendered(snap.Doc.Find("#first")))
	assert.False(t, dom.Rendered(snap.Doc.Find("#secret")))
	_, hidden := snap.Doc.Find("#gone").Attr("hidden")
	assert.True(t, hidden)

	require.NoError(t, s.Focus(ctx, first))
	for _, r := range "Ada" {
		require.NoError(t, s.TypeRune(ctx, first, r))
	}
	country := dom.HandleOf(snap.Doc.Find("#country"))
	require.NoError(t, s.SelectIndex(ctx, country, 1))
	terms := dom.HandleOf(snap.Doc.Find("#terms"))
	require.NoError(t, s.SetChecked(ctx, terms, true))
	require.NoError(t, s.SetChecked(ctx, terms, true))

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, dom.HandleOf(snap.Doc.Find("#first")), "handles are stable within a document")
	assert.Equal(t, "Ada", dom.Value(snap.Doc.Find("#first")))
	assert.Equal(t, "ca", dom.Value(snap.Doc.Find("#country")))
	assert.True(t, dom.Checked(snap.Doc.Find("#terms")))

	visible, err := s.Visible(ctx, dom.HandleOf(snap.Doc.Find("#secret")))
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, s.Click(ctx, dom.HandleOf(snap.Doc.Find("#next"))))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", snap.Doc.Find("body").AttrOr("data-step", ""))

	require.NoError(t, s.Navigate(ctx, server.URL+"/again"))
	next, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, dom.HandleOf(next.Doc.Find("#first")), "a new document gets new handles")

	assert.ErrorIs(t, s.Click(ctx, first), dom.ErrNoElement)
}
