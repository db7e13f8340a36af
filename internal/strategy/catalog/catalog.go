// Package catalog loads strategy definitions from a YAML file, validates
// their params against per-type JSON schemas and reloads on change.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"deltabot/internal/config"
	"deltabot/internal/logger"
)

var log = logger.Component("catalog")

// FileConfig maps the catalog file.
type FileConfig struct {
	Strategies []config.StrategyConfig `yaml:"strategies"`
}

// Snapshot is an immutable view of one successful load.
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Source     string
	Strategies []config.StrategyConfig
}

// ChangeListener runs after a successful reload.
type ChangeListener func(Snapshot)

// CheckFunc vets a full definition list before it replaces the current one,
// typically by building it.
type CheckFunc func([]config.StrategyConfig) error

type Catalog struct {
	path    string
	v       *viper.Viper
	check   CheckFunc
	schemas map[string]*jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// Open reads the catalog at path. It does not watch the file until Watch.
func Open(path string, check CheckFunc) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy catalog requires path")
	}
	c, err := newCatalog(check)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	c.path = path
	c.v = v
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Static wraps inline definitions, for deployments without a catalog file.
func Static(defs []config.StrategyConfig, check CheckFunc) (*Catalog, error) {
	c, err := newCatalog(check)
	if err != nil {
		return nil, err
	}
	if err := c.install(defs, "inline"); err != nil {
		return nil, err
	}
	return c, nil
}

func newCatalog(check CheckFunc) (*Catalog, error) {
	schemas := make(map[string]*jsonschema.Schema, len(builtinSchemas))
	for typ, raw := range builtinSchemas {
		compiled, err := compileSchema(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", typ, err)
		}
		schemas[typ] = compiled
	}
	return &Catalog{check: check, schemas: schemas}, nil
}

// Watch reloads the catalog whenever the file changes. Reloads that fail
// validation are logged and leave the current snapshot in place.
func (c *Catalog) Watch() {
	if c.v == nil {
		return
	}
	c.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.Reload(); err != nil {
			log.Errorf("reload %s ignored: %v", filepath.Base(c.path), err)
			return
		}
		c.notifyListeners()
	})
	c.v.WatchConfig()
}

// OnChange registers fn to run (on its own goroutine) after each reload.
func (c *Catalog) OnChange(fn ChangeListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneSnapshot(c.snapshot)
}

func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Version
}

// Reload re-reads the file and swaps the snapshot if every entry validates.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	cfg, err := readCatalogFile(c.path)
	if err != nil {
		return err
	}
	return c.install(cfg.Strategies, filepath.Base(c.path))
}

func (c *Catalog) install(defs []config.StrategyConfig, source string) error {
	if len(defs) == 0 {
		return fmt.Errorf("strategy catalog %s is empty", source)
	}
	for i, d := range defs {
		if err := c.validateEntry(d); err != nil {
			return fmt.Errorf("strategy #%d (%s): %w", i+1, d.ID, err)
		}
	}
	if c.check != nil {
		if err := c.check(defs); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.snapshot = Snapshot{
		Version:    c.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Source:     source,
		Strategies: cloneDefs(defs),
	}
	version := c.snapshot.Version
	c.mu.Unlock()
	log.Infof("loaded %d strategies from %s (version %d)", len(defs), source, version)
	return nil
}

func (c *Catalog) validateEntry(d config.StrategyConfig) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("id is required")
	}
	typ := strings.ToLower(strings.TrimSpace(d.Type))
	schema, ok := c.schemas[typ]
	if !ok {
		return fmt.Errorf("unknown type %q", d.Type)
	}
	params, err := normalizeParams(d.Params)
	if err != nil {
		return err
	}
	if err := schema.Validate(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func (c *Catalog) notifyListeners() {
	c.mu.RLock()
	snap := cloneSnapshot(c.snapshot)
	listeners := append([]ChangeListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("catalog listener")
			cb(snap)
		}(fn)
	}
}

func readCatalogFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy catalog failed: %w", err)
	}
	return cfg, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeParams turns yaml-decoded params into plain JSON values and
// coerces numeric strings ("14") into numbers.
func normalizeParams(params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(sanitizeParams(params))
	if err != nil {
		return nil, fmt.Errorf("params are not JSON compatible: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}

func cloneDefs(src []config.StrategyConfig) []config.StrategyConfig {
	out := make([]config.StrategyConfig, len(src))
	for i, d := range src {
		if d.Params != nil {
			params := make(map[string]any, len(d.Params))
			for k, v := range d.Params {
				params[k] = v
			}
			d.Params = params
		}
		out[i] = d
	}
	return out
}

func cloneSnapshot(src Snapshot) Snapshot {
	src.Strategies = cloneDefs(src.Strategies)
	return src
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		log.Errorf("%s panic: %v", tag, r)
	}
}
