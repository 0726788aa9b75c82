package app

import (
	"context"

	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/module"
)

// BaseModuleID is the module every process declares before addons load.
const BaseModuleID = "BASE"

// baseHooks connect BASE options to the process. Nil hooks are skipped.
type baseHooks struct {
	debug    func(on bool)
	language func(loc string)
}

// declareBase registers the BASE module: Debug, Language and MenuKey.
// Labels are rendered in defaultLocale.
func declareBase(ctx context.Context, reg *module.Registry, bundle *locale.Bundle, defaultLocale string, hooks baseHooks) (*module.Module, error) {
	text := func(key string) string { return bundle.Text(defaultLocale, key) }

	m, err := reg.CreateModule(BaseModuleID,
		module.WithLabel(text("base.label")),
		module.WithDescription(text("base.description")),
	)
	if err != nil {
		return nil, err
	}

	debug := m.AddOption("Debug", text("base.debug"), text("base.debug.description"), module.TypeBool, false).
		Hint(module.HintCheckbox)
	if hooks.debug != nil {
		debug.OnChange(func(_ context.Context, _, v any) {
			on, _ := v.(bool)
			hooks.debug(on)
		})
	}
	if err := debug.Done(); err != nil {
		return nil, err
	}

	lang := m.AddOption("Language", text("base.language"), text("base.language.description"), module.TypeString, bundle.Match(defaultLocale)).
		Hint(module.HintCombo).
		Choices(func() []module.Choice {
			locales := bundle.Locales()
			out := make([]module.Choice, len(locales))
			for i, l := range locales {
				out[i] = module.Choice{Label: l, Value: l}
			}
			return out
		})
	if hooks.language != nil {
		lang.OnChange(func(_ context.Context, _, v any) {
			if s, ok := v.(string); ok {
				hooks.language(s)
			}
		})
	}
	if err := lang.Done(); err != nil {
		return nil, err
	}

	if err := m.AddOption("MenuKey", text("base.menukey"), text("base.menukey.description"), module.TypeKey, module.KeyF1+2).
		Hint(module.HintBinder).
		Forbid(module.KeyEscape).
		Done(); err != nil {
		return nil, err
	}

	if err := m.Register(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
