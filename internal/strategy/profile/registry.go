// Package profile 管理策略档案文件：模板（变体 + 参数 schema）与
// 每个 symbol 的绑定。文件变更时热重载，绑定切换对下一个评估周期生效，
// 不影响已持有的仓位。
package profile

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

	"strend/internal/logger"
	"strend/internal/strategy"
)

// Template 描述一个策略模板：底层变体 + 参数 schema。
type Template struct {
	ID          string         `mapstructure:"id" yaml:"id"`
	Description string         `mapstructure:"description" yaml:"description"`
	Variant     string         `mapstructure:"variant" yaml:"variant"`
	Version     int            `mapstructure:"version" yaml:"version"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// Binding 把一个 symbol 绑到模板与参数覆写。
type Binding struct {
	Strategy string         `mapstructure:"strategy" yaml:"strategy"`
	Params   map[string]any `mapstructure:"params" yaml:"params"`
}

// FileConfig 映射 strategies.yaml 的顶层结构。
type FileConfig struct {
	Strategies map[string]Template `mapstructure:"strategies" yaml:"strategies"`
	Bindings   map[string]Binding  `mapstructure:"bindings" yaml:"bindings"`
}

// Snapshot 是一次加载的不可变视图。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]Template
	Bindings  map[string]Binding
}

// ChangeListener 在 registry 重载后触发。
type ChangeListener func(Snapshot)

// Registry 持有当前档案并监听文件变更。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy profile failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			// 坏文件只告警，继续用上一份快照。
			logger.Errorf("strategy profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前档案快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Resolve 返回 symbol 当前绑定的策略实例。未绑定时回落到默认模板
// （名为 default 的绑定），再回落到趋势跟随缺省参数。
func (r *Registry) Resolve(symbol string) (strategy.Strategy, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.RLock()
	snap := r.snapshot
	binding, ok := snap.Bindings[symbol]
	if !ok {
		binding, ok = snap.Bindings["DEFAULT"]
	}
	r.mu.RUnlock()

	if !ok {
		return strategy.Build("trend_following", nil)
	}
	tpl, found := r.Template(binding.Strategy)
	if !found {
		return nil, fmt.Errorf("symbol %s 绑定了未知模板 %q", symbol, binding.Strategy)
	}
	if err := tpl.Validate(binding.Params); err != nil {
		return nil, fmt.Errorf("symbol %s 参数不符合模板 %s 的 schema: %w", symbol, tpl.ID, err)
	}
	variant := tpl.Variant
	if variant == "" {
		variant = tpl.ID
	}
	return strategy.Build(variant, binding.Params)
}

// Template 按 ID 查模板。
func (r *Registry) Template(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.TrimSpace(id)]
	return tpl, ok
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	templates := make(map[string]Template, len(cfg.Strategies))
	for name, tpl := range cfg.Strategies {
		norm := normalizeTemplate(name, tpl)
		templates[norm.ID] = norm
	}
	bindings := make(map[string]Binding, len(cfg.Bindings))
	for sym, b := range cfg.Bindings {
		key := strings.ToUpper(strings.TrimSpace(sym))
		if key == "" {
			continue
		}
		b.Strategy = strings.TrimSpace(b.Strategy)
		if b.Strategy == "" {
			return fmt.Errorf("binding %s 缺少 strategy 字段", key)
		}
		if _, ok := templates[b.Strategy]; !ok {
			return fmt.Errorf("binding %s 引用未定义模板 %q", key, b.Strategy)
		}
		bindings[key] = b
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
		Bindings:  bindings,
	}
	r.mu.Unlock()
	logger.Infof("Strategy profile loaded %d templates, %d bindings from %s",
		len(templates), len(bindings), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("strategy profile listener")
			cb(snap)
		}(fn)
	}
}

func normalizeTemplate(name string, tpl Template) Template {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	tpl.Variant = strings.ToLower(strings.TrimSpace(tpl.Variant))
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.Description = strings.TrimSpace(tpl.Description)
	if len(tpl.Schema) > 0 {
		if compiled, err := compileSchema(tpl.Schema); err != nil {
			logger.Errorf("strategy profile schema compile failed id=%s: %v", tpl.ID, err)
		} else {
			tpl.schemaCompiled = compiled
		}
	}
	return tpl
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]Template, len(src.Templates)),
		Bindings:  make(map[string]Binding, len(src.Bindings)),
	}
	for id, tpl := range src.Templates {
		dst.Templates[id] = tpl
	}
	for sym, b := range src.Bindings {
		dst.Bindings[sym] = b
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy profile failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy profile failed: %w", err)
	}
	return cfg, nil
}

// Validate 用编译好的 schema 校验参数覆写。
func (t Template) Validate(params map[string]any) error {
	if t.schemaCompiled == nil {
		return nil
	}
	return t.schemaCompiled.Validate(sanitizeParams(params))
}

// sanitizeParams 递归把字符串形式的数字转成 float64，容忍手写 yaml
// 里 "1.5" 这类写法。
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
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
