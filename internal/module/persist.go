package module

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/module/notify"
)

// persistent reports whether this process owns the module's stored document.
func (m *Module) persistent() bool {
	r := m.registry
	return r.backend != nil && (m.scope == ScopeUser || r.role == RoleAuthority)
}

// Save writes the module's values to storage as a flat JSON object of
// serialized values. It is a no-op when the module is not persisted here.
func (m *Module) Save(ctx context.Context) error {
	if !m.persistent() {
		return nil
	}
	doc, err := m.encode()
	if err != nil {
		return err
	}

	r := m.registry
	if err := r.backend.CreateDir(ctx, r.dir); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := r.backend.Write(ctx, m.StorageKey(), doc); err != nil {
		return fmt.Errorf("writing module %s: %w", m.id, err)
	}
	return nil
}

// Serialized returns every value in its serialized form.
func (m *Module) Serialized() (map[string]string, error) {
	values := m.registry.store.Values(m.id)
	out := make(map[string]string, len(values))
	for _, v := range m.Variables() {
		val, ok := values[v.Name]
		if !ok {
			val = v.defaultValue()
		}
		s, err := v.Type.Serialize(val)
		if err != nil {
			return nil, fmt.Errorf("serializing %s.%s: %w", m.id, v.Name, err)
		}
		out[v.Name] = s
	}
	return out, nil
}

func (m *Module) encode() (string, error) {
	flat, err := m.Serialized()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(flat); err != nil {
		return "", fmt.Errorf("encoding module %s: %w", m.id, err)
	}
	return buf.String(), nil
}

// Load reads the module's stored document and replaces its values. Missing
// or undecodable values take their default. Only storage failures are
// returned; decoding problems are logged.
func (m *Module) Load(ctx context.Context) error {
	_, err := m.load(ctx, notify.ChangeLoad, true)
	return err
}

// Reload is like Load but reports whether any value changed.
func (m *Module) Reload(ctx context.Context) (bool, error) {
	changes, err := m.load(ctx, notify.ChangeReload, true)
	return len(changes) > 0, err
}

func (m *Module) load(ctx context.Context, ct notify.ChangeType, runOnChange bool) ([]notify.Change, error) {
	if !m.Registered() {
		return nil, fmt.Errorf("%s: %w", m.id, ErrNotRegistered)
	}
	if !m.persistent() {
		return nil, nil
	}

	r := m.registry
	data, ok, err := r.backend.Read(ctx, m.StorageKey())
	if err != nil {
		r.logger.Warn("reading module failed; keeping current values",
			zap.String("module", m.id), zap.Error(err))
		return nil, fmt.Errorf("reading module %s: %w", m.id, err)
	}

	var raw map[string]json.RawMessage
	if ok {
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			r.logger.Warn("stored module is not valid JSON; using defaults",
				zap.String("module", m.id), zap.Error(err))
			raw = nil
		}
	}
	return m.apply(ctx, m.decode(raw), ct, "", runOnChange), nil
}

// decode converts a stored document into canonical values. Unknown keys are
// ignored and bad values are left out so apply falls back to the default.
func (m *Module) decode(raw map[string]json.RawMessage) map[string]any {
	values := make(map[string]any, len(raw))
	for _, v := range m.Variables() {
		msg, ok := raw[v.Name]
		if !ok {
			continue
		}
		val, err := m.decodeValue(v, rawString(msg))
		if err != nil {
			m.registry.logger.Warn("stored value rejected; using default",
				zap.String("module", m.id),
				zap.String("variable", v.Name),
				zap.Error(err))
			continue
		}
		values[v.Name] = val
	}
	return values
}

func (m *Module) decodeValue(v *Variable, s string) (any, error) {
	val, err := v.Type.Deserialize(s)
	if err != nil {
		return nil, err
	}
	return v.Check(m.id, val)
}

// rawString accepts both the serialized-string form and a bare JSON value,
// which is what a hand-edited file usually holds.
func rawString(msg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(msg))
}
