package driver

// ChallengeVar is the page-scoped variable InitScript fills with the
// parameters passed to turnstile.render.
const ChallengeVar = "__mmChallenge"

// InitScript runs before any page script. It patches the navigator
// properties headless Chrome gives away and wraps turnstile.render so the
// widget parameters land in window.__mmChallenge.
const InitScript = `(() => {
  try {
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
    Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
    Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  } catch (e) {}

  const wrap = (ts) => {
    if (!ts || ts.__mmWrapped || typeof ts.render !== 'function') return ts;
    const render = ts.render.bind(ts);
    ts.render = (container, params) => {
      try {
        params = params || {};
        window.__mmChallenge = {
          sitekey: params.sitekey || '',
          action: params.action || '',
          cdata: params.cData || '',
          pagedata: params.chlPageData || '',
        };
        if (typeof params.callback === 'function') window.__mmChallengeCallback = params.callback;
      } catch (e) {}
      return render(container, params);
    };
    ts.__mmWrapped = true;
    return ts;
  };

  let current = window.turnstile;
  try {
    Object.defineProperty(window, 'turnstile', {
      configurable: true,
      get: () => current,
      set: (v) => { current = wrap(v); },
    });
  } catch (e) {}
  if (current) wrap(current);
})();`

// readInterceptedJS is the one query against the state InitScript keeps.
const readInterceptedJS = `() => {
  const c = window.__mmChallenge;
  if (!c || !c.sitekey) return null;
  return { sitekey: c.sitekey, action: c.action || '', cdata: c.cdata || '', pagedata: c.pagedata || '' };
}`

// tokenSelectors are the hidden fields challenge widgets post their token in.
const tokenSelectors = `['input[name="cf-turnstile-response"]', 'textarea[name="cf-turnstile-response"]', 'input[name="g-recaptcha-response"]', 'textarea[name="g-recaptcha-response"]', 'textarea[name="h-captcha-response"]', 'input[name="h-captcha-response"]']`

// tokenLengthJS returns the length of the longest token in any response field.
const tokenLengthJS = `() => {
  let max = 0;
  for (const sel of ` + tokenSelectors + `) {
    for (const el of document.querySelectorAll(sel)) {
      if (el.value && el.value.length > max) max = el.value.length;
    }
  }
  return max;
}`

// detectChallengeJS reports an unsolved challenge: an indicator (status text,
// challenge iframe, widget element) is present and no token has been set.
const detectChallengeJS = `() => {
  const text = (document.body && document.body.innerText || '').slice(0, 20000);
  const statusText = /verify you are human|checking your browser|just a moment|verifying you are human|complete the security check|press (and|&) hold/i.test(text);
  const iframe = !!document.querySelector('iframe[src*="challenges.cloudflare.com"], iframe[src*="turnstile"], iframe[src*="hcaptcha"], iframe[src*="recaptcha"], iframe[title*="challenge" i]');
  const widget = !!document.querySelector('.cf-turnstile, [data-sitekey], #cf-challenge-running, #challenge-form, .g-recaptcha, .h-captcha');
  if (!statusText && !iframe && !widget) return false;
  for (const sel of ` + tokenSelectors + `) {
    for (const el of document.querySelectorAll(sel)) {
      if (el.value && el.value.length > 10) return false;
    }
  }
  return true;
}`

// domDescriptorJS reads widget parameters from data attributes.
const domDescriptorJS = `() => {
  const el = document.querySelector('.cf-turnstile[data-sitekey], [data-sitekey]');
  if (!el) return null;
  return {
    sitekey: el.getAttribute('data-sitekey') || '',
    action: el.getAttribute('data-action') || '',
    cdata: el.getAttribute('data-cdata') || '',
    pagedata: '',
  };
}`

// injectTokenJS writes the token to every candidate field, creating one in
// the search form when none exists, and fires input/change events.
const injectTokenJS = `(token) => {
  let fields = [];
  for (const sel of ` + tokenSelectors + `) fields.push(...document.querySelectorAll(sel));
  if (fields.length === 0) {
    const anchor = document.querySelector('[data-mm-field]') || document.querySelector('.cf-turnstile, [data-sitekey]');
    const form = (anchor && anchor.closest('form')) || document.querySelector('form');
    const input = document.createElement('input');
    input.type = 'hidden';
    input.name = 'cf-turnstile-response';
    (form || document.body).appendChild(input);
    fields.push(input);
  }
  for (const el of fields) {
    el.value = token;
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
  }
  try {
    if (typeof window.__mmChallengeCallback === 'function') window.__mmChallengeCallback(token);
  } catch (e) {}
  return fields.length;
}`

// locateFieldJS finds a form control by name/id, then placeholder or
// aria-label, then position among visible inputs, and tags it with
// data-mm-field. It returns "<strategy>:<tag>" or "" when nothing matched.
const locateFieldJS = `(field, pattern, position) => {
  const re = new RegExp(pattern, 'i');
  const isWidget = (el) => !!el.closest('.cf-turnstile, [data-sitekey], .g-recaptcha, .h-captcha') || /captcha|turnstile/i.test(el.name || '');
  const visible = (el) => {
    const s = getComputedStyle(el);
    const r = el.getBoundingClientRect();
    return el.type !== 'hidden' && s.display !== 'none' && s.visibility !== 'hidden' && r.width > 0 && r.height > 0;
  };
  const old = document.querySelector('[data-mm-field="' + field + '"]');
  if (old) old.removeAttribute('data-mm-field');
  const controls = [...document.querySelectorAll('input, select, textarea')].filter((el) =>
    !isWidget(el) && !['hidden', 'submit', 'button', 'image', 'checkbox', 'radio'].includes(el.type) && !el.hasAttribute('data-mm-field'));
  let strategy = 'name';
  let el = controls.find((e) => re.test(e.name || '') || re.test(e.id || ''));
  if (!el) {
    strategy = 'placeholder';
    el = controls.find((e) => re.test(e.placeholder || '') || re.test(e.getAttribute('aria-label') || ''));
  }
  if (!el && position >= 0) {
    strategy = 'position';
    el = controls.filter((e) => e.tagName === 'INPUT' && visible(e))[position];
  }
  if (!el) return '';
  el.setAttribute('data-mm-field', field);
  return strategy + ':' + el.tagName.toLowerCase();
}`

// positionalFallbackJS tags the first two visible, non-widget text inputs
// as last and first name.
const positionalFallbackJS = `() => {
  const isWidget = (el) => !!el.closest('.cf-turnstile, [data-sitekey], .g-recaptcha, .h-captcha') || /captcha|turnstile/i.test(el.name || '');
  const inputs = [...document.querySelectorAll('input')].filter((el) => {
    if (isWidget(el) || ['hidden', 'submit', 'button', 'image', 'checkbox', 'radio'].includes(el.type)) return false;
    const s = getComputedStyle(el);
    const r = el.getBoundingClientRect();
    return s.display !== 'none' && s.visibility !== 'hidden' && r.width > 0 && r.height > 0;
  });
  if (inputs.length < 2) return false;
  for (const el of document.querySelectorAll('[data-mm-field="last"], [data-mm-field="first"]')) el.removeAttribute('data-mm-field');
  inputs[0].setAttribute('data-mm-field', 'last');
  inputs[1].setAttribute('data-mm-field', 'first');
  return true;
}`

// backstopValueJS sets the value programmatically when typing did not stick.
// It returns true when the backstop had to act.
const backstopValueJS = `(field, value) => {
  const el = document.querySelector('[data-mm-field="' + field + '"]');
  if (!el || el.value === value) return false;
  el.value = value;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

// fieldValueJS returns the current value of a tagged field.
const fieldValueJS = `(field) => {
  const el = document.querySelector('[data-mm-field="' + field + '"]');
  return el ? el.value : '';
}`

// selectOptionJS picks the option of a tagged select whose text or value
// matches one of the candidates.
const selectOptionJS = `(field, candidates) => {
  const el = document.querySelector('[data-mm-field="' + field + '"]');
  if (!el) return false;
  const wanted = candidates.filter(Boolean).map((c) => c.trim().toLowerCase());
  if (el.tagName !== 'SELECT') {
    el.value = candidates[0];
    el.dispatchEvent(new Event('input', { bubbles: true }));
    el.dispatchEvent(new Event('change', { bubbles: true }));
    return true;
  }
  const opt = [...el.options].find((o) => wanted.includes(o.value.trim().toLowerCase()) || wanted.includes(o.text.trim().toLowerCase()));
  if (!opt) return false;
  el.value = opt.value;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

// markSubmitJS tags the search form's submit-labelled button.
const markSubmitJS = `() => {
  const anchor = document.querySelector('[data-mm-field]');
  const scope = (anchor && anchor.closest('form')) || document;
  const buttons = [...scope.querySelectorAll('button, input[type="submit"], input[type="button"]')];
  const label = (b) => (b.innerText || b.value || b.getAttribute('aria-label') || '').trim();
  const btn = buttons.find((b) => b.type === 'submit' && /search|submit|find/i.test(label(b)))
    || buttons.find((b) => /search|submit|find/i.test(label(b)))
    || buttons.find((b) => b.type === 'submit');
  if (!btn) return false;
  btn.setAttribute('data-mm-submit', '1');
  return true;
}`

// requestSubmitJS submits the form holding the tagged fields directly.
const requestSubmitJS = `() => {
  const anchor = document.querySelector('[data-mm-field]');
  const form = (anchor && anchor.closest('form')) || document.querySelector('form');
  if (!form) return false;
  if (typeof form.requestSubmit === 'function') form.requestSubmit(); else form.submit();
  return true;
}`

// clickAnySubmitJS clicks the first visible submit-like element on the page.
const clickAnySubmitJS = `() => {
  const els = [...document.querySelectorAll('button, input[type="submit"], a[role="button"], [type="submit"]')];
  const el = els.find((e) => {
    const r = e.getBoundingClientRect();
    return r.width > 0 && r.height > 0 && /search|submit|find|continue/i.test(e.innerText || e.value || '');
  });
  if (!el) return false;
  el.click();
  return true;
}`

// resultsIndicatorJS reports an element that typically carries results.
const resultsIndicatorJS = `() => {
  if (document.querySelector('table tbody tr td, .search-results, #search-results, .results, [class*="result-row"], [data-results]')) return true;
  const text = (document.body && document.body.innerText || '').slice(0, 20000);
  return /\b\d+\s+(results?|records?|properties)\s+found\b|no (results|records|properties) found/i.test(text);
}`

// onFormPageJS reports whether the search form is still displayed.
const onFormPageJS = `() => !!document.querySelector('[data-mm-field="last"], [data-mm-field="first"]')`

const (
	htmlJS = `() => document.documentElement.outerHTML`
	urlJS  = `() => location.href`
)

// pageTextJS returns the visible text.
const pageTextJS = `() => document.body ? document.body.innerText : ''`

// Script names returned by ScriptName.
const (
	ScriptReadIntercepted  = "read-intercepted"
	ScriptTokenLength      = "token-length"
	ScriptDetectChallenge  = "detect-challenge"
	ScriptDOMDescriptor    = "dom-descriptor"
	ScriptInjectToken      = "inject-token"
	ScriptLocateField      = "locate-field"
	ScriptPositional       = "positional-fallback"
	ScriptBackstopValue    = "backstop-value"
	ScriptFieldValue       = "field-value"
	ScriptSelectOption     = "select-option"
	ScriptMarkSubmit       = "mark-submit"
	ScriptRequestSubmit    = "request-submit"
	ScriptClickAnySubmit   = "click-any-submit"
	ScriptResultsIndicator = "results-indicator"
	ScriptOnFormPage       = "on-form-page"
	ScriptPageText         = "page-text"
	ScriptHTML             = "html"
	ScriptURL              = "url"
)

var scriptNames = map[string]string{
	readInterceptedJS:    ScriptReadIntercepted,
	tokenLengthJS:        ScriptTokenLength,
	detectChallengeJS:    ScriptDetectChallenge,
	domDescriptorJS:      ScriptDOMDescriptor,
	injectTokenJS:        ScriptInjectToken,
	locateFieldJS:        ScriptLocateField,
	positionalFallbackJS: ScriptPositional,
	backstopValueJS:      ScriptBackstopValue,
	fieldValueJS:         ScriptFieldValue,
	selectOptionJS:       ScriptSelectOption,
	markSubmitJS:         ScriptMarkSubmit,
	requestSubmitJS:      ScriptRequestSubmit,
	clickAnySubmitJS:     ScriptClickAnySubmit,
	resultsIndicatorJS:   ScriptResultsIndicator,
	onFormPageJS:         ScriptOnFormPage,
	pageTextJS:           ScriptPageText,
	htmlJS:               ScriptHTML,
	urlJS:                ScriptURL,
}

// ScriptName returns the short name of one of the driver's page scripts,
// or "" for any other script. Page implementations use it in logs.
func ScriptName(js string) string {
	return scriptNames[js]
}
