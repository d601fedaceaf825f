package driver

import (
	"context"
	"strings"
)

// fieldSpec describes how one form control is located.
type fieldSpec struct {
	key      string // data-mm-field value
	pattern  string // matched against name/id, then placeholder/aria-label
	position int    // index among visible inputs; -1 disables
	required bool
	isSelect bool
}

var fieldSpecs = []fieldSpec{
	{key: "last", pattern: `last.?name|lname|surname|family`, position: 0, required: true},
	{key: "first", pattern: `first.?name|fname|given`, position: 1, required: true},
	{key: "city", pattern: `city|town`, position: 2},
	{key: "state", pattern: `state|province|region`, position: -1, isSelect: true},
}

func (f Form) value(key string) string {
	switch key {
	case "last":
		return f.LastName
	case "first":
		return f.FirstName
	case "city":
		return f.City
	case "state":
		return f.State
	}
	return ""
}

// fillForm fills every non-empty field. A required field that cannot be
// located or typed into switches to the positional last/first fallback.
func (r *run) fillForm(ctx context.Context, form Form) error {
	needFallback := false
	for _, fs := range fieldSpecs {
		value := form.value(fs.key)
		if value == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		located := r.evalStr(ctx, locateFieldJS, fs.key, fs.pattern, fs.position)
		if located == "" {
			r.log.WarnContext(ctx, "driver: field not found", "field", fs.key)
			if fs.required {
				needFallback = true
			}
			continue
		}
		strategy, tag, _ := strings.Cut(located, ":")
		r.log.DebugContext(ctx, "driver: field located", "field", fs.key, "strategy", strategy, "tag", tag)

		if fs.isSelect || tag == "select" {
			if !r.evalBool(ctx, selectOptionJS, fs.key, []string{form.State, form.StateCode}) {
				r.log.WarnContext(ctx, "driver: no matching option", "field", fs.key, "value", value)
			}
			continue
		}
		if !r.typeField(ctx, fs.key, value) && fs.required {
			needFallback = true
		}
	}

	if needFallback {
		return r.positionalFallback(ctx, form)
	}
	return ctx.Err()
}

// typeField types value into the tagged field, then applies the
// programmatic backstop. ok is false when neither stuck.
func (r *run) typeField(ctx context.Context, key, value string) bool {
	sel := `[data-mm-field="` + key + `"]`
	if err := r.page.Type(ctx, sel, value, r.d.cfg.TypeDelay); err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.log.WarnContext(ctx, "driver: typing failed", "field", key, "error", err)
	}
	if r.evalBool(ctx, backstopValueJS, key, value) {
		r.log.DebugContext(ctx, "driver: backstop value applied", "field", key)
	}
	return r.evalStr(ctx, fieldValueJS, key) == value
}

func (r *run) positionalFallback(ctx context.Context, form Form) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.evalBool(ctx, positionalFallbackJS) {
		r.log.WarnContext(ctx, "driver: positional fallback found fewer than two inputs")
		return nil
	}
	r.log.InfoContext(ctx, "driver: filling names positionally")
	r.typeField(ctx, "last", form.LastName)
	r.typeField(ctx, "first", form.FirstName)
	return ctx.Err()
}
