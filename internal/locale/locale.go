// Package locale loads the translated message catalogs used for player
// notifications and menu labels.
//
// Catalogs are YAML files at locales/<locale>/<namespace>.yaml:
//
//	locale: en-US
//	namespace: chat
//	messages:
//	  chat.denied: "You are not allowed to use !%s."
//
// Keys must start with their namespace. Messages are printf-style formats
// rendered with golang.org/x/text/message.
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the locale every key must exist in.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embedded embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Bundle holds the messages of every loaded locale.
type Bundle struct {
	locales map[string]map[string]string
	tags    []language.Tag
	names   []string
	matcher language.Matcher
	catalog *catalog.Builder

	mu       sync.Mutex
	printers map[string]*message.Printer
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embedded)
}

// MustLoadEmbedded is like LoadEmbedded but panics on error.
func MustLoadEmbedded() *Bundle {
	b, err := LoadEmbedded()
	if err != nil {
		panic(err)
	}
	return b
}

// LoadFromFS loads every locales/*/*.yaml file of fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	locales := make(map[string]map[string]string)
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := addFile(locales, p, file); err != nil {
			return nil, err
		}
	}
	if _, ok := locales[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	return newBundle(locales)
}

func addFile(locales map[string]map[string]string, p string, file catalogFile) error {
	localeFromPath := path.Base(path.Dir(p))
	namespaceFromPath := strings.TrimSuffix(path.Base(p), path.Ext(p))

	loc := strings.TrimSpace(file.Locale)
	if loc != localeFromPath {
		return fmt.Errorf("catalog %s: locale %q must match path locale %q", p, loc, localeFromPath)
	}
	ns := strings.TrimSpace(file.Namespace)
	if ns != namespaceFromPath {
		return fmt.Errorf("catalog %s: namespace %q must match filename namespace %q", p, ns, namespaceFromPath)
	}
	if len(file.Messages) == 0 {
		return fmt.Errorf("catalog %s: messages map is required", p)
	}

	msgs, ok := locales[loc]
	if !ok {
		msgs = make(map[string]string)
		locales[loc] = msgs
	}
	for key, value := range file.Messages {
		key = strings.TrimSpace(key)
		if !strings.HasPrefix(key, ns+".") {
			return fmt.Errorf("catalog %s: key %q must start with %q", p, key, ns+".")
		}
		if _, dup := msgs[key]; dup {
			return fmt.Errorf("catalog %s: duplicate key %q in locale %q", p, key, loc)
		}
		msgs[key] = value
	}
	return nil
}

func newBundle(locales map[string]map[string]string) (*Bundle, error) {
	base := language.MustParse(BaseLocale)
	b := &Bundle{
		locales:  locales,
		catalog:  catalog.NewBuilder(catalog.Fallback(base)),
		printers: make(map[string]*message.Printer),
	}

	// The base locale goes first so the matcher falls back to it.
	names := make([]string, 0, len(locales))
	for name := range locales {
		if name != BaseLocale {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = append([]string{BaseLocale}, names...)

	for _, name := range names {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("parse locale tag %q: %w", name, err)
		}
		b.tags = append(b.tags, tag)
		msgs := locales[name]
		keys := make([]string, 0, len(msgs))
		for k := range msgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := b.catalog.SetString(tag, k, msgs[k]); err != nil {
				return nil, fmt.Errorf("register %s %s: %w", name, k, err)
			}
		}
	}
	b.names = names
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// Locales returns the loaded locale names, base locale first.
func (b *Bundle) Locales() []string {
	return append([]string(nil), b.names...)
}

// HasLocale reports whether locale was loaded exactly.
func (b *Bundle) HasLocale(locale string) bool {
	_, ok := b.locales[strings.TrimSpace(locale)]
	return ok
}

// Match returns the loaded locale that best serves the requested one,
// falling back to the base locale.
func (b *Bundle) Match(locale string) string {
	locale = strings.TrimSpace(locale)
	if b.HasLocale(locale) {
		return locale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return BaseLocale
	}
	_, idx, conf := b.matcher.Match(tag)
	if conf == language.No || idx < 0 || idx >= len(b.names) {
		return BaseLocale
	}
	return b.names[idx]
}

// Message returns the raw message for key with base-locale fallback.
func (b *Bundle) Message(locale, key string) (string, bool) {
	key = strings.TrimSpace(key)
	if msg, ok := b.locales[b.Match(locale)][key]; ok {
		return msg, true
	}
	msg, ok := b.locales[BaseLocale][key]
	return msg, ok
}

// Text renders key for locale with args. Keys missing from the locale use
// the base locale; unknown keys render as the key itself.
func (b *Bundle) Text(locale, key string, args ...any) string {
	loc := b.Match(locale)
	if _, ok := b.locales[loc][key]; !ok {
		if _, ok := b.locales[BaseLocale][key]; !ok {
			return key
		}
		loc = BaseLocale
	}
	return b.printer(loc).Sprintf(key, args...)
}

func (b *Bundle) printer(loc string) *message.Printer {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.printers[loc]
	if !ok {
		p = message.NewPrinter(language.MustParse(loc), message.Catalog(b.catalog))
		b.printers[loc] = p
	}
	return p
}
