package domtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

const stepOne = `<html><body><form>
<input name="email" type="email">
<input name="gone" style="display: none">
<select name="country"><option value="">Pick</option><option value="us">United States</option></select>
<input type="radio" name="auth" value="yes"><input type="radio" name="auth" value="no" checked>
<button data-goto="1">Next</button>
</form></body></html>`

const stepTwo = `<html><body><form><input name="city"><button>Review</button></form></body></html>`

func TestPageStampsAndNavigates(t *testing.T) {
	ctx := context.Background()
	p := New(nil, "https://example.test", stepOne, stepTwo)

	first, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Handle("input[name=email]"))

	visible, err := p.Visible(ctx, p.Handle("input[name=gone]"))
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, p.Click(ctx, p.Handle("button")))
	assert.Equal(t, 1, p.Step())

	second, err := p.Snapshot(ctx)
	require.NoError(t, err)
	for h := range second.InputHandles() {
		_, reused := first.InputHandles()[h]
		assert.False(t, reused, "handle %s reused across documents", h)
	}
}

func TestPageMutations(t *testing.T) {
	ctx := context.Background()
	clock := NewClock()
	p := New(clock, "https://example.test", stepOne)
	email := p.Handle("input[name=email]")

	require.NoError(t, p.Clear(ctx, email))
	require.NoError(t, p.TypeRune(ctx, email, 'a'))
	clock.Advance(60 * time.Millisecond)
	require.NoError(t, p.TypeRune(ctx, email, 'b'))
	assert.Equal(t, "ab", p.Value(email))

	recs := p.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 60*time.Millisecond, recs[1].At.Sub(recs[0].At))

	sel := p.Handle("select")
	require.NoError(t, p.SelectIndex(ctx, sel, 1))
	assert.Equal(t, "us", p.Value(sel))
	assert.Equal(t, []dom.Event{dom.EventInput, dom.EventChange}, p.EventsFor(sel))

	yes := p.Handle("input[value=yes]")
	no := p.Handle("input[value=no]")
	require.NoError(t, p.SetChecked(ctx, yes, true))
	assert.True(t, p.IsChecked(yes))
	assert.False(t, p.IsChecked(no), "radio siblings are unchecked")

	require.NoError(t, p.Highlight(ctx, email, "#c8f7c5", time.Second))
	assert.Equal(t, "#c8f7c5", p.HighlightColor(email))

	assert.ErrorIs(t, p.Focus(ctx, "missing"), dom.ErrNoElement)
}
