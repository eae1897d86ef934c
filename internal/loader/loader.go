// Package loader reads workflow definitions from a directory of JSON and YAML documents,
// checks them against the definition schema and the validator, and registers them with
// the engine. It can watch the directory and reload definitions as files change.
package loader

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/validation"
)

//go:embed workflow.schema.json
var schemaJSON string

var definitionSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded workflow schema: %v", err))
	}
	return s
}()

// DefaultDebounce is how long the watcher waits for further changes before reloading.
const DefaultDebounce = 500 * time.Millisecond

// FileError lists every problem found in one definition file.
type FileError struct {
	Path   string
	Issues []string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, strings.Join(e.Issues, "; "))
}

// IsDefinitionFile reports whether path has a definition file extension.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// ParseFile reads one definition file and checks it against the schema. It does not run
// the graph validator; a *FileError reports schema violations.
func ParseFile(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes a definition document. name selects YAML or JSON by extension.
func Parse(name string, data []byte) (*models.WorkflowDefinition, error) {
	doc := data
	if ext := strings.ToLower(filepath.Ext(name)); ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, &FileError{Path: name, Issues: []string{fmt.Sprintf("invalid YAML: %v", err)}}
		}
		var err error
		if doc, err = json.Marshal(v); err != nil {
			return nil, &FileError{Path: name, Issues: []string{fmt.Sprintf("YAML document cannot be represented as JSON: %v", err)}}
		}
	}

	res, err := definitionSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, &FileError{Path: name, Issues: []string{fmt.Sprintf("invalid document: %v", err)}}
	}
	if !res.Valid() {
		fe := &FileError{Path: name}
		for _, e := range res.Errors() {
			fe.Issues = append(fe.Issues, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return nil, fe
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, &FileError{Path: name, Issues: []string{err.Error()}}
	}
	return &def, nil
}

// Check parses a file and runs the validator, returning a *FileError with every issue.
func Check(path string) (*models.WorkflowDefinition, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if res := validation.Validate(def); !res.Valid {
		fe := &FileError{Path: path}
		for _, issue := range res.Errors {
			fe.Issues = append(fe.Issues, issue.String())
		}
		return nil, fe
	}
	return def, nil
}

// ValidateDir checks every definition file in dir without registering anything. It
// returns the files checked and the problems found, including workflow ids declared by
// more than one file.
func ValidateDir(dir string) ([]string, []*FileError, error) {
	files, err := definitionFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	var problems []*FileError
	owners := make(map[string]string)
	for _, path := range files {
		def, err := Check(path)
		var fe *FileError
		switch {
		case errors.As(err, &fe):
			problems = append(problems, fe)
			continue
		case err != nil:
			problems = append(problems, &FileError{Path: path, Issues: []string{err.Error()}})
			continue
		}
		if other, ok := owners[def.ID]; ok {
			problems = append(problems, &FileError{Path: path, Issues: []string{fmt.Sprintf("workflow id %q is already declared in %s", def.ID, other)}})
			continue
		}
		owners[def.ID] = path
	}
	return files, problems, nil
}

func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsDefinitionFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Registrar is the part of *flow.Engine the loader registers definitions with.
type Registrar interface {
	RegisterWorkflow(def *models.WorkflowDefinition) error
	UnregisterWorkflow(id string) bool
}

// Opts holds configuration options for the loader.
type Opts struct {
	Debounce time.Duration
	// OnReload is called after every reload attempt triggered by the watcher.
	OnReload func(path string, err error)
}

// Option defines a configuration option for the loader.
type Option func(*Opts)

// WithDebounce sets how long the watcher waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return func(o *Opts) { o.Debounce = d }
}

// WithOnReload installs a callback for watcher reloads.
func WithOnReload(fn func(path string, err error)) Option {
	return func(o *Opts) { o.OnReload = fn }
}

// Loader registers the definitions found in one directory.
type Loader struct {
	dir      string
	reg      Registrar
	debounce time.Duration
	onReload func(path string, err error)

	mu     sync.Mutex
	byPath map[string]string // file -> workflow id
}

// New creates a loader for dir registering into reg.
func New(dir string, reg Registrar, opts ...Option) *Loader {
	cfg := Opts{Debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{
		dir:      dir,
		reg:      reg,
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		byPath:   make(map[string]string),
	}
}

// LoadAll registers every valid definition in the directory. Invalid files are logged
// with every issue and skipped; they are returned alongside the loaded workflow ids.
func (l *Loader) LoadAll() ([]string, []*FileError, error) {
	files, err := definitionFiles(l.dir)
	if err != nil {
		return nil, nil, err
	}
	var loaded []string
	var failed []*FileError
	for _, path := range files {
		id, err := l.loadFile(path)
		if err != nil {
			var fe *FileError
			if !errors.As(err, &fe) {
				fe = &FileError{Path: path, Issues: []string{err.Error()}}
			}
			failed = append(failed, fe)
			continue
		}
		loaded = append(loaded, id)
	}
	slog.Info("Loader LoadAll finished", "dir", l.dir, "loaded", len(loaded), "failed", len(failed))
	return loaded, failed, nil
}

func (l *Loader) loadFile(path string) (string, error) {
	def, err := ParseFile(path)
	if err != nil {
		slog.Warn("Loader skipping definition file", "path", path, "error", err)
		return "", err
	}
	if err := l.reg.RegisterWorkflow(def); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			fe := &FileError{Path: path}
			for _, issue := range verr.Issues {
				fe.Issues = append(fe.Issues, issue.String())
			}
			err = fe
		}
		slog.Warn("Loader rejected definition", "path", path, "workflow_id", def.ID, "error", err)
		return "", err
	}

	l.mu.Lock()
	prev, had := l.byPath[path]
	l.byPath[path] = def.ID
	stale := had && prev != def.ID && !l.providedLocked(prev)
	l.mu.Unlock()
	if stale {
		l.reg.UnregisterWorkflow(prev)
	}
	slog.Debug("Loader registered definition", "path", path, "workflow_id", def.ID, "version", def.Version)
	return def.ID, nil
}

func (l *Loader) unloadFile(path string) {
	l.mu.Lock()
	id, ok := l.byPath[path]
	delete(l.byPath, path)
	stale := ok && !l.providedLocked(id)
	l.mu.Unlock()
	if stale {
		l.reg.UnregisterWorkflow(id)
		slog.Info("Loader unregistered definition of removed file", "path", path, "workflow_id", id)
	}
}

// providedLocked reports whether some loaded file still declares id.
func (l *Loader) providedLocked(id string) bool {
	for _, other := range l.byPath {
		if other == id {
			return true
		}
	}
	return false
}

// Watch reloads definition files as they change until ctx is done. The watch is in place
// when Watch returns.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	slog.Info("Loader watching workflow directory", "dir", l.dir, "debounce", l.debounce)

	go func() {
		defer w.Close()
		pending := make(map[string]struct{})
		timer := time.NewTimer(l.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !IsDefinitionFile(ev.Name) || strings.HasPrefix(filepath.Base(ev.Name), ".") {
					continue
				}
				pending[ev.Name] = struct{}{}
				timer.Reset(l.debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("Loader watcher error", "dir", l.dir, "error", err)
			case <-timer.C:
				for path := range pending {
					l.reload(path)
				}
				pending = make(map[string]struct{})
			}
		}
	}()
	return nil
}

func (l *Loader) reload(path string) {
	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		l.unloadFile(path)
	} else {
		_, err = l.loadFile(path)
	}
	if l.onReload != nil {
		l.onReload(path, err)
	}
}
