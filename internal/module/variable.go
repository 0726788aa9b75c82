package module

import (
	"context"
	"fmt"
)

// UIHint tells the settings menu which widget to render for a variable.
type UIHint string

// Known hints. An empty hint lets the menu pick from the type.
const (
	HintDefault  UIHint = ""
	HintCheckbox UIHint = "checkbox"
	HintSlider   UIHint = "slider"
	HintText     UIHint = "text"
	HintCombo    UIHint = "combo"
	HintBinder   UIHint = "binder"
	HintColor    UIHint = "color"
)

// Choice is one entry offered by a ChoiceProvider.
type Choice struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// ChoiceProvider lists the values a menu may offer for a variable.
// It is called each time the menu is built, so the list may change.
type ChoiceProvider func() []Choice

// OnChangeFunc runs after a variable's value changed.
type OnChangeFunc func(ctx context.Context, oldValue, newValue any)

// Variable is one typed, named, defaulted entry of a module.
type Variable struct {
	Name        string
	Label       string
	Description string
	Type        Type
	Default     any
	Hint        UIHint

	// Minimum and Maximum bound Int variables (nil means unbounded).
	Minimum *int
	Maximum *int

	// Forbidden lists key codes a Key variable may not be bound to.
	Forbidden map[KeyCode]struct{}

	Choices  ChoiceProvider
	OnChange OnChangeFunc

	// Order is the registration index inside the module.
	Order int
}

// Check normalizes value and tests it against the variable's type and
// constraints, returning the canonical value.
func (v *Variable) Check(moduleID string, value any) (any, error) {
	nv, ok := v.Type.Normalize(value)
	if !ok {
		return nil, &TypeError{
			Module:   moduleID,
			Variable: v.Name,
			Expected: v.Type.String(),
			Actual:   fmt.Sprintf("%T", value),
		}
	}

	switch v.Type {
	case TypeInt:
		n := nv.(int)
		if v.Minimum != nil && n < *v.Minimum {
			return nil, &ValidationError{Module: moduleID, Variable: v.Name, Value: n,
				Message: fmt.Sprintf("less than minimum %d", *v.Minimum)}
		}
		if v.Maximum != nil && n > *v.Maximum {
			return nil, &ValidationError{Module: moduleID, Variable: v.Name, Value: n,
				Message: fmt.Sprintf("greater than maximum %d", *v.Maximum)}
		}
	case TypeKey:
		k := nv.(KeyCode)
		if _, forbidden := v.Forbidden[k]; forbidden {
			return nil, &ValidationError{Module: moduleID, Variable: v.Name, Value: k,
				Message: fmt.Sprintf("%s cannot be bound", k)}
		}
	}
	return nv, nil
}

// defaultValue returns a private copy of the default.
func (v *Variable) defaultValue() any {
	return deepCopy(v.Default)
}

// VariableDescriptor is the read-only view of a variable the settings menu
// renders from.
type VariableDescriptor struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	Default     any       `json:"default"`
	Value       any       `json:"value"`
	Hint        UIHint    `json:"hint,omitempty"`
	Minimum     *int      `json:"min,omitempty"`
	Maximum     *int      `json:"max,omitempty"`
	Forbidden   []KeyCode `json:"forbidden,omitempty"`
	Choices     []Choice  `json:"choices,omitempty"`
	Order       int       `json:"order"`
}

func (v *Variable) describe(current any) VariableDescriptor {
	d := VariableDescriptor{
		Name:        v.Name,
		Label:       v.Label,
		Description: v.Description,
		Type:        v.Type,
		Default:     v.defaultValue(),
		Value:       current,
		Hint:        v.Hint,
		Minimum:     v.Minimum,
		Maximum:     v.Maximum,
		Order:       v.Order,
	}
	if len(v.Forbidden) > 0 {
		d.Forbidden = sortedKeys(v.Forbidden)
	}
	if v.Choices != nil {
		d.Choices = v.Choices()
	}
	return d
}
