package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/tbxark/visaflow/types"
	"golang.org/x/sync/singleflight"
)

var ErrDuplicateVisaType = errors.New("visaflow: duplicate visa type")

type source struct {
	name     string
	visaType string
	data     []byte
}

// Loader resolves visa types to validated definitions. Parsed definitions are cached
// for the lifetime of the loader, so a visa type always yields the same value.
type Loader struct {
	mu      sync.RWMutex
	sources map[string]source
	cache   map[string]*Definition
	group   singleflight.Group
	logger  *slog.Logger
}

type LoaderOption func(*Loader)

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		sources: make(map[string]source),
		cache:   make(map[string]*Definition),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func normalize(visaType string) string {
	return strings.ToLower(strings.TrimSpace(visaType))
}

// Register adds a raw document. Only visa_type is read here; full validation happens on Load.
func (l *Loader) Register(name string, raw []byte, format Format) (string, error) {
	data, err := toJSON(raw, format)
	if err != nil {
		return "", &MalformedError{Issues: []Issue{{Location: name, Message: err.Error()}}}
	}
	var head struct {
		VisaType string `json:"visa_type"`
	}
	if err = json.Unmarshal(data, &head); err != nil {
		return "", &MalformedError{Issues: []Issue{{Location: name, Message: err.Error()}}}
	}
	key := normalize(head.VisaType)
	if key == "" {
		return "", &MalformedError{Issues: []Issue{{Location: name, Message: "visa_type is required"}}}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.sources[key]; ok {
		return "", fmt.Errorf("%w: %q in %s and %s", ErrDuplicateVisaType, head.VisaType, prev.name, name)
	}
	l.sources[key] = source{name: name, visaType: strings.TrimSpace(head.VisaType), data: data}
	l.logger.Debug("Registered workflow definition", "visa_type", head.VisaType, "source", name)
	return strings.TrimSpace(head.VisaType), nil
}

// RegisterFS registers every json/yaml document in dir.
func (l *Loader) RegisterFS(fsys fs.FS, dir string) (int, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := FormatFromName(entry.Name())
		if !ok {
			continue
		}
		file := path.Join(dir, entry.Name())
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return count, fmt.Errorf("read %s: %w", file, err)
		}
		if _, err = l.Register(file, raw, format); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Load parses and validates the definition for visaType once; later calls hit the cache.
func (l *Loader) Load(visaType string) (*Definition, error) {
	key := normalize(visaType)
	l.mu.RLock()
	if def, ok := l.cache[key]; ok {
		l.mu.RUnlock()
		return def, nil
	}
	src, ok := l.sources[key]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDefinitionNotFound, visaType)
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		def, err := Parse(src.data, FormatJSON)
		if err != nil {
			l.logger.Error("Invalid workflow definition", "source", src.name, "error", err)
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = def
		l.mu.Unlock()
		l.logger.Debug("Loaded workflow definition", "visa_type", def.VisaType, "stages", len(def.Stages))
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Definition), nil
}

// VisaTypes lists registered visa types in sorted order.
func (l *Loader) VisaTypes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.sources))
	for _, src := range l.sources {
		out = append(out, src.visaType)
	}
	slices.Sort(out)
	return out
}
