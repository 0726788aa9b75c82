package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonlib/internal/module/notify"
	"github.com/dshills/addonlib/internal/storage"
)

func newFileRegistry(t *testing.T, opts ...Option) (*Registry, *storage.FileBackend) {
	t.Helper()
	b := storage.NewFileBackend(t.TempDir())
	r := NewRegistry(append([]Option{WithBackend(b, "addonlib/config")}, opts...)...)
	t.Cleanup(r.Close)
	return r, b
}

func baseModule(t *testing.T, r *Registry) *Module {
	t.Helper()
	m, err := r.CreateModule("BASE", WithLabel("Base"))
	require.NoError(t, err)
	m.AddOption("Debug", "Debug mode", "Verbose logging", TypeBool, false)
	m.AddOption("Volume", "Volume", "", TypeInt, 50).Range(0, 100)
	m.AddOption("Language", "Language", "", TypeString, "en-US")
	m.AddOption("Extra", "Extra", "", TypeTable, map[string]any{})
	m.AddOption("MenuKey", "Menu key", "", TypeKey, KeyF1).Forbid(KeyEscape)
	return m
}

func TestCreateModule_InvalidID(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	for _, id := range []string{"", "has space", "a/b"} {
		_, err := r.CreateModule(id)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
}

func TestModule_DefaultsOnFreshLoad(t *testing.T) {
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(context.Background()))

	assert.Equal(t, false, m.GetValue("Debug"))
	assert.Equal(t, 50, m.GetValue("Volume"))
	assert.Equal(t, "en-US", m.GetValue("Language"))
	assert.Equal(t, map[string]any{}, m.GetValue("Extra"))
	assert.Equal(t, KeyF1, m.GetValue("MenuKey"))
	assert.Nil(t, m.GetValue("Missing"))
}

func TestModule_GetValueBeforeRegister(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	m, err := r.CreateModule("LATE")
	require.NoError(t, err)
	b := m.AddOption("Count", "Count", "", TypeInt, 3)
	require.NoError(t, b.Done())

	assert.Equal(t, 3, m.GetValue("Count"))
	assert.ErrorIs(t, m.SetValue(context.Background(), "Count", 4), ErrNotRegistered)
}

func TestModule_DebugScenario(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	require.NoError(t, m.SetValue(ctx, "Debug", true))
	require.NoError(t, r.Save(ctx))

	// A new process reading the same storage.
	r2 := NewRegistry(WithBackend(b, "addonlib/config"))
	defer r2.Close()
	m2 := baseModule(t, r2)
	require.NoError(t, m2.Register(ctx))

	got, err := m2.GetBool("Debug")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestModule_SetSaveReload(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	require.NoError(t, m.SetValue(ctx, "Volume", 80))
	require.NoError(t, m.SetValue(ctx, "Language", "de-DE"))
	require.NoError(t, m.SetValue(ctx, "Extra", map[string]any{"colors": []any{"red"}}))
	require.NoError(t, m.SetValue(ctx, "MenuKey", KeyF1+4))

	changed, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "reload of the just-saved document changes nothing")

	assert.Equal(t, 80, m.GetValue("Volume"))
	assert.Equal(t, "de-DE", m.GetValue("Language"))
	assert.Equal(t, map[string]any{"colors": []any{"red"}}, m.GetValue("Extra"))
	assert.Equal(t, KeyF1+4, m.GetValue("MenuKey"))

	// Invalid UTF-8 would not survive the JSON document.
	assert.ErrorIs(t, m.SetValue(ctx, "Language", "a\xffb"), ErrTypeMismatch)
	assert.ErrorIs(t, m.SetValue(ctx, "Extra", map[string]any{"k": "\xff"}), ErrTypeMismatch)
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, "de-DE", m.GetValue("Language"))
}

func TestModule_PersistedLayout(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	require.NoError(t, m.SetValue(ctx, "Debug", true))

	assert.Equal(t, "addonlib/config/BASE.json", m.StorageKey())
	data, err := os.ReadFile(filepath.Join(b.Root(), "addonlib", "config", "BASE.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Debug": "true",
		"Volume": "50",
		"Language": "en-US",
		"Extra": "{}",
		"MenuKey": "92"
	}`, string(data))
}

func TestModule_CorruptTableFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)
	require.NoError(t, b.CreateDir(ctx, "addonlib/config"))
	require.NoError(t, b.Write(ctx, "addonlib/config/BASE.json",
		`{"Extra": "{not valid json", "Volume": "75", "Unknown": "x"}`))

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	assert.Equal(t, map[string]any{}, m.GetValue("Extra"))
	assert.Equal(t, 75, m.GetValue("Volume"), "good values survive a bad neighbour")
}

func TestModule_CorruptDocumentFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)
	require.NoError(t, b.CreateDir(ctx, "addonlib/config"))
	require.NoError(t, b.Write(ctx, "addonlib/config/BASE.json", `{{{`))

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	assert.Equal(t, 50, m.GetValue("Volume"))
	assert.Equal(t, false, m.GetValue("Debug"))
}

func TestModule_StoredValuesAreChecked(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)
	require.NoError(t, b.CreateDir(ctx, "addonlib/config"))
	// Out of range, forbidden key, and a bare JSON bool.
	require.NoError(t, b.Write(ctx, "addonlib/config/BASE.json",
		`{"Volume": "500", "MenuKey": "70", "Debug": true}`))

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	assert.Equal(t, 50, m.GetValue("Volume"))
	assert.Equal(t, KeyF1, m.GetValue("MenuKey"))
	assert.Equal(t, true, m.GetValue("Debug"))
}

func TestModule_GetValueCopiesTables(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	require.NoError(t, m.SetValue(ctx, "Extra", map[string]any{"a": "b"}))

	got := m.GetValue("Extra").(map[string]any)
	got["a"] = "mutated"
	got["c"] = "added"

	assert.Equal(t, map[string]any{"a": "b"}, m.GetValue("Extra"))
}

func TestModule_SetValueValidation(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	assert.ErrorIs(t, m.SetValue(ctx, "Debug", "yes"), ErrTypeMismatch)
	assert.ErrorIs(t, m.SetValue(ctx, "Volume", 101), ErrValidationFailed)
	assert.ErrorIs(t, m.SetValue(ctx, "Volume", -1), ErrValidationFailed)
	assert.ErrorIs(t, m.SetValue(ctx, "MenuKey", KeyEscape), ErrValidationFailed)
	assert.ErrorIs(t, m.SetValue(ctx, "Nope", 1), ErrVariableNotFound)

	var te *TypeError
	require.ErrorAs(t, m.SetValue(ctx, "Language", 5), &te)
	assert.Equal(t, "String", te.Expected)

	assert.Equal(t, 50, m.GetValue("Volume"))
}

func TestModule_TypedGetters(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	n, err := m.GetInt("Volume")
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	s, err := m.GetString("Language")
	require.NoError(t, err)
	assert.Equal(t, "en-US", s)

	k, err := m.GetKey("MenuKey")
	require.NoError(t, err)
	assert.Equal(t, KeyF1, k)

	tbl, err := m.GetTable("Extra")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, tbl)

	_, err = m.GetInt("Debug")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.GetBool("Nope")
	assert.ErrorIs(t, err, ErrVariableNotFound)
}

func TestModule_GetSorted(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	m := baseModule(t, r)
	require.NoError(t, m.Register(context.Background()))

	sorted := m.GetSorted()
	require.Len(t, sorted, 5)
	names := make([]string, len(sorted))
	for i, d := range sorted {
		names[i] = d.Name
		assert.Equal(t, i, d.Order)
	}
	assert.Equal(t, []string{"Debug", "Volume", "Language", "Extra", "MenuKey"}, names)

	assert.Equal(t, TypeInt, sorted[1].Type)
	require.NotNil(t, sorted[1].Minimum)
	assert.Equal(t, 0, *sorted[1].Minimum)
	assert.Equal(t, 100, *sorted[1].Maximum)
	assert.Equal(t, []KeyCode{KeyEscape}, sorted[4].Forbidden)
}

func TestModule_Choices(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	calls := 0
	m, err := r.CreateModule("LANG")
	require.NoError(t, err)
	m.AddOption("Language", "", "", TypeString, "en-US").
		Hint(HintCombo).
		Choices(func() []Choice {
			calls++
			return []Choice{{Label: "English", Value: "en-US"}, {Label: "Deutsch", Value: "de-DE"}}
		})
	require.NoError(t, m.Register(context.Background()))

	d := m.GetSorted()[0]
	assert.Equal(t, "Language", d.Label, "label defaults to the name")
	assert.Equal(t, HintCombo, d.Hint)
	assert.Len(t, d.Choices, 2)
	m.GetSorted()
	assert.Equal(t, 2, calls, "choices are rebuilt each time")
}

func TestModule_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(m *Module) *OptionBuilder
	}{
		{"bad default type", func(m *Module) *OptionBuilder {
			return m.AddOption("Debug", "", "", TypeBool, "false")
		}},
		{"default out of range", func(m *Module) *OptionBuilder {
			return m.AddOption("Size", "", "", TypeInt, 10).Max(5)
		}},
		{"forbidden default", func(m *Module) *OptionBuilder {
			return m.AddOption("Key", "", "", TypeKey, KeyEscape).Forbid(KeyEscape)
		}},
		{"min on string", func(m *Module) *OptionBuilder {
			return m.AddOption("Name", "", "", TypeString, "").Min(1)
		}},
		{"forbid on int", func(m *Module) *OptionBuilder {
			return m.AddOption("Size", "", "", TypeInt, 1).Forbid(KeyA)
		}},
		{"inverted range", func(m *Module) *OptionBuilder {
			return m.AddOption("Size", "", "", TypeInt, 1).Range(10, 0)
		}},
		{"invalid type", func(m *Module) *OptionBuilder {
			return m.AddOption("Size", "", "", Type(0), 1)
		}},
		{"invalid name", func(m *Module) *OptionBuilder {
			return m.AddOption("bad name", "", "", TypeInt, 1)
		}},
		{"nil default", func(m *Module) *OptionBuilder {
			return m.AddOption("Table", "", "", TypeTable, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			defer r.Close()
			m, err := r.CreateModule("BAD")
			require.NoError(t, err)

			err = tt.build(m).Done()
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "BAD", se.Module)
		})
	}
}

func TestModule_DuplicateVariable(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	m, err := r.CreateModule("DUP")
	require.NoError(t, err)

	require.NoError(t, m.AddOption("A", "", "", TypeInt, 1).Done())
	var se *SchemaError
	assert.ErrorAs(t, m.AddOption("A", "", "", TypeInt, 2).Done(), &se)
}

func TestModule_MustRegisterPanicsOnSchemaError(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	m, err := r.CreateModule("BASE")
	require.NoError(t, err)
	m.AddOption("Debug", "", "", TypeBool, 1)

	assert.Panics(t, func() { m.MustRegister(context.Background()) })
	_, err = r.Module("BASE")
	assert.ErrorIs(t, err, ErrModuleNotFound, "a failed module is not registered")
}

func TestModule_RegisterAfterSchemaErrorFails(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m, err := r.CreateModule("RETRY")
	require.NoError(t, err)
	m.AddOption("Good", "", "", TypeBool, false)
	m.AddOption("Bad", "", "", TypeInt, "not an int")

	var se *SchemaError
	require.ErrorAs(t, m.Register(ctx), &se)
	assert.Equal(t, "Bad", se.Variable)

	require.ErrorAs(t, m.Register(ctx), &se, "the schema error sticks")
	assert.Equal(t, "Bad", se.Variable)
	assert.False(t, m.Registered())
	_, err = r.Module("RETRY")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestOptionBuilder_MustDonePanics(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	m, err := r.CreateModule("BASE")
	require.NoError(t, err)

	assert.Panics(t, func() {
		m.AddOption("Debug", "", "", TypeBool, "no").MustDone()
	})
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	first, err := r.CreateModule("BASE")
	require.NoError(t, err)
	first.AddOption("Old", "", "", TypeInt, 1)
	require.NoError(t, first.Register(ctx))

	other, err := r.CreateModule("OTHER")
	require.NoError(t, err)
	require.NoError(t, other.Register(ctx))

	second, err := r.CreateModule("BASE")
	require.NoError(t, err)
	second.AddOption("New", "", "", TypeString, "x")
	require.NoError(t, second.Register(ctx))

	got, err := r.Module("BASE")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.False(t, first.Registered())
	assert.True(t, second.Registered())

	mods := r.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "BASE", mods[0].ID(), "replacement keeps its position")
	assert.Equal(t, "OTHER", mods[1].ID())

	_, hasOld := second.Variable("Old")
	assert.False(t, hasOld, "registrations are not merged")
	assert.ErrorIs(t, first.SetValue(ctx, "Old", 2), ErrNotRegistered)

	// Registering the same module again is a no-op.
	require.NoError(t, second.Register(ctx))
	assert.Len(t, r.Modules(), 2)
}

func TestRegistry_ReRegisterLoadsPersistedValues(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	require.NoError(t, m.SetValue(ctx, "Volume", 10))

	again := baseModule(t, r)
	require.NoError(t, again.Register(ctx))
	assert.Equal(t, 10, again.GetValue("Volume"))
}

func TestRegistry_Mirror(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t, WithRole(RoleMirror))

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	assert.ErrorIs(t, m.SetValue(ctx, "Debug", true), ErrReadOnly)
	assert.ErrorIs(t, m.Reset(ctx), ErrReadOnly)

	user, err := r.CreateUserModule("HUD")
	require.NoError(t, err)
	user.AddOption("Scale", "", "", TypeInt, 1)
	require.NoError(t, user.Register(ctx))
	require.NoError(t, user.SetValue(ctx, "Scale", 2))

	ok, err := b.Exists(ctx, "addonlib/config/hud.json")
	require.NoError(t, err)
	assert.True(t, ok, "user modules persist on a mirror")

	ok, err = b.Exists(ctx, "addonlib/config/BASE.json")
	require.NoError(t, err)
	assert.False(t, ok, "mirrors never write server modules")
}

func TestRegistry_SnapshotAndApply(t *testing.T) {
	ctx := context.Background()
	server, _ := newFileRegistry(t)
	sm := baseModule(t, server)
	require.NoError(t, sm.Register(ctx))
	hud, err := server.CreateUserModule("HUD")
	require.NoError(t, err)
	require.NoError(t, hud.Register(ctx))

	require.NoError(t, sm.SetValue(ctx, "Debug", true))
	require.NoError(t, sm.SetValue(ctx, "Extra", []any{"x"}))

	snap := server.Snapshot()
	require.Contains(t, snap, "BASE")
	assert.NotContains(t, snap, "HUD", "user modules are never synced")
	assert.Equal(t, "true", snap["BASE"]["Debug"])
	assert.Equal(t, `["x"]`, snap["BASE"]["Extra"])

	client := NewRegistry(WithRole(RoleMirror))
	defer client.Close()
	cm := baseModule(t, client)
	require.NoError(t, cm.Register(ctx))

	var changes []notify.Change
	client.Notifier().SubscribeModule("BASE", func(c notify.Change) { changes = append(changes, c) })

	n := client.ApplySnapshot(ctx, snap, "server")
	assert.Equal(t, 1, n)
	assert.Equal(t, true, cm.GetValue("Debug"))
	assert.Equal(t, []any{"x"}, cm.GetValue("Extra"))
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, notify.ChangeSync, c.Type)
		assert.Equal(t, "server", c.Source)
	}

	// Wholesale replacement: absent variables return to default.
	client.ApplySnapshot(ctx, Snapshot{"BASE": {"Volume": "20", "Language": "bogus-but-valid"}}, "server")
	assert.Equal(t, false, cm.GetValue("Debug"))
	assert.Equal(t, 20, cm.GetValue("Volume"))
	assert.Equal(t, "bogus-but-valid", cm.GetValue("Language"))

	// Bad values and unknown modules are ignored.
	n = client.ApplySnapshot(ctx, Snapshot{"BASE": {"Volume": "loud"}, "NOPE": {"x": "1"}}, "server")
	assert.Equal(t, 1, n)
	assert.Equal(t, 50, cm.GetValue("Volume"))
}

func TestModule_OnChange(t *testing.T) {
	ctx := context.Background()
	r, b := newFileRegistry(t)

	type call struct{ old, new any }
	var calls []call
	build := func(reg *Registry) *Module {
		m, err := reg.CreateModule("BASE")
		require.NoError(t, err)
		m.AddOption("Debug", "", "", TypeBool, false).
			OnChange(func(_ context.Context, o, n any) { calls = append(calls, call{o, n}) })
		return m
	}

	m := build(r)
	require.NoError(t, m.Register(ctx))
	require.NoError(t, m.SetValue(ctx, "Debug", true))
	require.NoError(t, m.SetValue(ctx, "Debug", true))
	assert.Equal(t, []call{{false, true}}, calls, "unchanged values do not fire")

	// Initial load at registration does not fire.
	calls = nil
	r2 := NewRegistry(WithBackend(b, "addonlib/config"))
	defer r2.Close()
	m2 := build(r2)
	require.NoError(t, m2.Register(ctx))
	assert.Empty(t, calls)
	assert.Equal(t, true, m2.GetValue("Debug"))

	// A reload after an edit on disk does.
	require.NoError(t, b.Write(ctx, m2.StorageKey(), `{"Debug":"false"}`))
	changed, err := m2.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []call{{true, false}}, calls)
}

func TestModule_OnChangePanicIsContained(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()

	m, err := r.CreateModule("BASE")
	require.NoError(t, err)
	m.AddOption("Debug", "", "", TypeBool, false).
		OnChange(func(context.Context, any, any) { panic("boom") })
	require.NoError(t, m.Register(ctx))

	assert.NotPanics(t, func() {
		require.NoError(t, m.SetValue(ctx, "Debug", true))
	})
	assert.Equal(t, true, m.GetValue("Debug"))
}

func TestModule_SetValueNotifies(t *testing.T) {
	ctx := ContextWithSource(context.Background(), "peer-1")
	r := NewRegistry()
	defer r.Close()
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	var got []notify.Change
	r.Notifier().Subscribe(func(c notify.Change) { got = append(got, c) })

	require.NoError(t, m.SetValue(ctx, "Volume", 60))
	require.Len(t, got, 1)
	assert.Equal(t, notify.Change{
		Module: "BASE", Variable: "Volume", Type: notify.ChangeSet,
		OldValue: 50, NewValue: 60, Source: "peer-1",
	}, got[0])
}

func TestModule_Reset(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))
	require.NoError(t, m.SetValue(ctx, "Volume", 99))
	require.NoError(t, m.SetValue(ctx, "Debug", true))

	var got []notify.Change
	sub := r.Notifier().SubscribeModule("BASE", func(c notify.Change) { got = append(got, c) })
	defer sub.Unsubscribe()
	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, 50, m.GetValue("Volume"))
	assert.Equal(t, false, m.GetValue("Debug"))

	require.Len(t, got, 2)
	assert.True(t, got[0].More, "the reset is one batch")
	assert.False(t, got[1].More)

	changed, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

// failingBackend accepts reads and fails every write.
type failingBackend struct {
	storage.Backend
	mu     sync.Mutex
	writes int
}

func (f *failingBackend) Write(context.Context, string, string) error {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return errors.New("disk full")
}

func TestModule_SetValueRestoresOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	fb := &failingBackend{Backend: storage.NewFileBackend(t.TempDir())}
	r := NewRegistry(WithBackend(fb, "cfg"))
	defer r.Close()

	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	fired := false
	r.Notifier().Subscribe(func(notify.Change) { fired = true })

	err := m.SetValue(ctx, "Volume", 70)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 50, m.GetValue("Volume"))
	assert.False(t, fired)
	assert.Equal(t, 1, fb.writes)
}

func TestRegistry_ModuleByKey(t *testing.T) {
	r, _ := newFileRegistry(t)
	m := baseModule(t, r)
	require.NoError(t, m.Register(context.Background()))

	got, ok := r.ModuleByKey("addonlib/config/BASE.json")
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = r.ModuleByKey("addonlib/config/other.json")
	assert.False(t, ok)
	_, ok = r.ModuleByKey("../base.json")
	assert.False(t, ok)
}

func TestRegistry_IDsDifferingInCaseKeepSeparateDocuments(t *testing.T) {
	ctx := context.Background()
	r, _ := newFileRegistry(t)

	lower, err := r.CreateModule("Base")
	require.NoError(t, err)
	lower.AddOption("X", "", "", TypeInt, 1)
	require.NoError(t, lower.Register(ctx))

	upper, err := r.CreateModule("BASE")
	require.NoError(t, err)
	upper.AddOption("X", "", "", TypeInt, 1)
	require.NoError(t, upper.Register(ctx))

	assert.NotEqual(t, lower.StorageKey(), upper.StorageKey())

	require.NoError(t, lower.SetValue(ctx, "X", 7))
	require.NoError(t, upper.Load(ctx))
	assert.Equal(t, 1, upper.GetValue("X"))
	assert.Equal(t, 7, lower.GetValue("X"))

	got, ok := r.ModuleByKey(upper.StorageKey())
	require.True(t, ok)
	assert.Same(t, upper, got)
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	defer r.Close()
	m := baseModule(t, r)
	require.NoError(t, m.Register(context.Background()))

	d := r.Describe()
	require.Len(t, d, 1)
	assert.Equal(t, "BASE", d[0].ID)
	assert.Equal(t, "Base", d[0].Label)
	assert.Equal(t, ScopeServer, d[0].Scope)
	assert.Len(t, d[0].Variables, 5)
}

func TestRegistry_NoBackend(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	defer r.Close()
	m := baseModule(t, r)
	require.NoError(t, m.Register(ctx))

	require.NoError(t, m.SetValue(ctx, "Debug", true))
	require.NoError(t, r.Save(ctx))
	require.NoError(t, r.Load(ctx))
	assert.Equal(t, true, m.GetValue("Debug"))
}
