package browser

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
)

// stampScript annotates every interactive element and returns the HTML of an
// annotated clone. Handles are "<document token>-<sequence>", so a new
// document never reuses a handle from the previous one. The clone marks
// elements the page does not render with the hidden attribute and mirrors
// live option selection.
const stampScript = `(() => {
	const doc = document;
	if (!doc.__fpToken) {
		doc.__fpToken = Math.random().toString(36).slice(2, 8);
		doc.__fpSeq = 0;
	}
	const rendered = (el) => {
		const cs = getComputedStyle(el);
		return cs.display !== 'none' && cs.visibility !== 'hidden';
	};
	for (const el of doc.querySelectorAll(%[1]q)) {
		if (!el.hasAttribute(%[2]q)) {
			el.setAttribute(%[2]q, doc.__fpToken + '-' + (++doc.__fpSeq));
		}
		const r = el.getBoundingClientRect();
		const shown = rendered(el) && el.getClientRects().length > 0;
		el.setAttribute(%[3]q, shown ? String(Math.round(r.width)) : '0');
		el.setAttribute(%[4]q, shown ? String(Math.round(r.height)) : '0');
		if ('value' in el && el.tagName !== 'BUTTON') {
			el.setAttribute(%[5]q, String(el.value ?? ''));
		}
		if (el.type === 'checkbox' || el.type === 'radio') {
			el.setAttribute(%[6]q, String(el.checked));
		} else if (el.getAttribute('role') === 'radio' || el.getAttribute('role') === 'checkbox') {
			el.setAttribute(%[6]q, String(el.getAttribute('aria-checked') === 'true'));
		}
	}
	const live = doc.documentElement.querySelectorAll('*');
	const clone = doc.documentElement.cloneNode(true);
	const copy = clone.querySelectorAll('*');
	for (let i = 0; i < live.length && i < copy.length; i++) {
		const el = live[i];
		if (el.tagName === 'SCRIPT' || el.tagName === 'STYLE' || el.tagName === 'HEAD') continue;
		if (!rendered(el)) copy[i].setAttribute('hidden', '');
		if (el.tagName === 'OPTION') {
			if (el.selected) copy[i].setAttribute('selected', 'selected');
			else copy[i].removeAttribute('selected');
		}
	}
	return clone.outerHTML;
})()`

// Element operations. Each receives the element and the remaining call
// arguments and returns "" on success.
const (
	opVisible = `(el) => {
		const cs = getComputedStyle(el);
		const shown = el.isConnected && cs.display !== 'none' && cs.visibility !== 'hidden' && el.getClientRects().length > 0;
		return shown ? '' : 'hidden';
	}`

	opFocus = `(el) => { el.scrollIntoView({block: 'center'}); el.focus(); return ''; }`

	opClear = `(el) => {
		const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value');
		if (desc && desc.set) desc.set.call(el, ''); else el.value = '';
		if (el.setSelectionRange) { try { el.setSelectionRange(0, 0); } catch (e) {} }
		return '';
	}`

	opCaretEnd = `(el) => {
		if (document.activeElement !== el) el.focus();
		if (el.setSelectionRange && typeof el.value === 'string') {
			try { el.setSelectionRange(el.value.length, el.value.length); } catch (e) {}
		}
		return '';
	}`

	opDispatch = `(el, name) => {
		if (name === 'blur') { el.blur(); return ''; }
		if (name === 'focus') { el.focus(); return ''; }
		el.dispatchEvent(new Event(name, {bubbles: true}));
		return '';
	}`

	opSetChecked = `(el, want) => {
		const current = 'checked' in el ? el.checked : el.getAttribute('aria-checked') === 'true';
		if (current !== want) {
			el.click();
		} else {
			el.dispatchEvent(new Event('change', {bubbles: true}));
		}
		return '';
	}`

	opSelectIndex = `(el, idx) => {
		if (idx < 0 || idx >= el.options.length) return 'no option ' + idx;
		el.selectedIndex = idx;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return '';
	}`

	opClick = `(el) => { el.scrollIntoView({block: 'center'}); el.click(); return ''; }`

	opHighlight = `(el, color, ms) => {
		const previous = el.style.backgroundColor;
		el.style.backgroundColor = color;
		setTimeout(() => { el.style.backgroundColor = previous; }, ms);
		return '';
	}`
)

// missing is the status returned when the handle resolves to nothing.
const missing = "missing"

// buildStampScript fills the attribute names into stampScript.
func buildStampScript() string {
	return fmt.Sprintf(stampScript, dom.InteractiveSelector, dom.HandleAttr,
		dom.WidthAttr, dom.HeightAttr, dom.ValueAttr, dom.CheckedAttr)
}

// elementCall builds an expression that resolves h and applies op to it
// with args, JSON encoded.
func elementCall(h dom.Handle, op string, args ...any) (string, error) {
	sel, err := json.MarshalToString(fmt.Sprintf("[%s=%q]", dom.HandleAttr, string(h)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(() => { const el = document.querySelector(%s); if (!el) return %q; return (%s)(el", sel, missing, op)
	for _, a := range args {
		raw, err := json.MarshalToString(a)
		if err != nil {
			return "", fmt.Errorf("browser: failed to encode argument: %w", err)
		}
		b.WriteString(", ")
		b.WriteString(raw)
	}
	b.WriteString("); })()")
	return b.String(), nil
}
