package module

// OptionBuilder collects a variable definition started by Module.AddOption.
// Constraint calls chain; the definition is validated once, by Done or by
// registering the module, and only then becomes part of the module.
type OptionBuilder struct {
	module *Module
	v      Variable
	err    error
	done   bool
}

// Hint sets the menu widget hint.
func (b *OptionBuilder) Hint(h UIHint) *OptionBuilder {
	b.v.Hint = h
	return b
}

// Choices sets the provider of selectable values.
func (b *OptionBuilder) Choices(p ChoiceProvider) *OptionBuilder {
	b.v.Choices = p
	return b
}

// OnChange sets the action run after the value changes.
func (b *OptionBuilder) OnChange(fn OnChangeFunc) *OptionBuilder {
	b.v.OnChange = fn
	return b
}

// Min sets the inclusive lower bound of an Int variable.
func (b *OptionBuilder) Min(n int) *OptionBuilder {
	if b.v.Type != TypeInt {
		b.fail("Min applies to Int variables only")
		return b
	}
	b.v.Minimum = &n
	return b
}

// Max sets the inclusive upper bound of an Int variable.
func (b *OptionBuilder) Max(n int) *OptionBuilder {
	if b.v.Type != TypeInt {
		b.fail("Max applies to Int variables only")
		return b
	}
	b.v.Maximum = &n
	return b
}

// Range sets both bounds of an Int variable.
func (b *OptionBuilder) Range(lo, hi int) *OptionBuilder {
	return b.Min(lo).Max(hi)
}

// Forbid rejects the given key codes for a Key variable.
func (b *OptionBuilder) Forbid(keys ...KeyCode) *OptionBuilder {
	if b.v.Type != TypeKey {
		b.fail("Forbid applies to Key variables only")
		return b
	}
	if b.v.Forbidden == nil {
		b.v.Forbidden = make(map[KeyCode]struct{}, len(keys))
	}
	for _, k := range keys {
		b.v.Forbidden[k] = struct{}{}
	}
	return b
}

// Done validates the definition and adds it to the module.
// Calling Done again returns the first result.
func (b *OptionBuilder) Done() error {
	if b.done {
		return b.err
	}
	b.done = true
	if b.err == nil {
		b.err = b.module.commit(b)
	}
	return b.err
}

// MustDone is like Done but panics on a schema error.
func (b *OptionBuilder) MustDone() {
	if err := b.Done(); err != nil {
		panic(err)
	}
}

// Variable returns the definition collected so far.
func (b *OptionBuilder) Variable() Variable {
	return b.v
}

func (b *OptionBuilder) fail(msg string) {
	if b.err != nil {
		return
	}
	b.err = &SchemaError{Module: b.module.id, Variable: b.v.Name, Message: msg}
}
