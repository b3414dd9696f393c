package tools

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/m4xw311/cadlink/errors"
)

// ErrDuplicateTool is returned when two modules declare the same tool name.
var ErrDuplicateTool = errors.Sentinel("duplicate tool name")

// Module is a named group of tools. Tools is called on every build so a
// reload picks up fresh declarations.
type Module struct {
	Name  string
	Tools func() []Tool
}

// Filter whitelists tools by name with doublestar patterns. An empty
// Enabled list enables everything; Disabled always wins.
type Filter struct {
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
}

// Allows reports whether name passes the filter. Invalid patterns never
// match.
func (f Filter) Allows(name string) bool {
	for _, p := range f.Disabled {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return false
		}
	}
	if len(f.Enabled) == 0 {
		return true
	}
	for _, p := range f.Enabled {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Validate rejects malformed patterns.
func (f Filter) Validate() error {
	for _, p := range append(append([]string(nil), f.Enabled...), f.Disabled...) {
		if !doublestar.ValidatePattern(p) {
			return errors.New("invalid tool pattern '%s'", p)
		}
	}
	return nil
}

type entry struct {
	tool   Tool
	spec   Spec
	schema *jsonschema.Schema
}

// Registry holds all available tools, built lazily from modules.
type Registry struct {
	modules []Module
	filter  Filter
	log     *zap.Logger

	built   bool
	entries map[string]*entry
	order   []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithFilter restricts the registry to tools allowed by f.
func WithFilter(f Filter) Option {
	return func(r *Registry) { r.filter = f }
}

// WithLogger sets the logger used to report omitted tools.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates a registry over modules. Nothing is built until the
// first request.
func NewRegistry(modules []Module, opts ...Option) *Registry {
	r := &Registry{modules: modules, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Build builds the registry if it has not been built yet.
func (r *Registry) Build() error {
	if r.built {
		return nil
	}
	entries := make(map[string]*entry)
	var order []string
	owner := make(map[string]string)
	for _, m := range r.modules {
		for _, t := range m.Tools() {
			b, ok := t.(buildable)
			if !ok {
				r.log.Warn("tool omitted: not declared with Define", zap.String("module", m.Name))
				continue
			}
			b.setModule(m.Name)
			if err := b.check(); err != nil {
				r.log.Error("tool omitted: malformed schema",
					zap.String("module", m.Name),
					zap.String("tool", t.Name()),
					zap.Error(err))
				continue
			}
			spec := b.toolSpec()
			if prev, dup := owner[spec.Name]; dup {
				return errors.Wrapf(ErrDuplicateTool, "'%s' declared in modules %s and %s", spec.Name, prev, m.Name)
			}
			owner[spec.Name] = m.Name
			if !r.filter.Allows(spec.Name) {
				r.log.Debug("tool filtered out", zap.String("tool", spec.Name))
				continue
			}
			schema, err := CompileParameters(spec)
			if err != nil {
				r.log.Error("tool omitted", zap.String("tool", spec.Name), zap.Error(err))
				continue
			}
			entries[spec.Name] = &entry{tool: t, spec: spec, schema: schema}
			order = append(order, spec.Name)
		}
	}
	r.entries, r.order, r.built = entries, order, true
	r.log.Info("tool registry built", zap.Int("tools", len(order)))
	return nil
}

// Reload clears the registry and builds it again.
func (r *Registry) Reload() error {
	r.built = false
	r.entries, r.order = nil, nil
	return r.Build()
}

// List returns the catalogue in declaration order.
func (r *Registry) List() ([]Spec, error) {
	if err := r.Build(); err != nil {
		return nil, err
	}
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out, nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	if err := r.Build(); err != nil {
		return nil, false
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// ParametersSchema returns the compiled parameters schema of a tool.
func (r *Registry) ParametersSchema(name string) (*jsonschema.Schema, bool) {
	if err := r.Build(); err != nil {
		return nil, false
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.schema, true
}

// Descriptors returns the descriptor of every registered tool.
func (r *Registry) Descriptors() []Descriptor {
	if err := r.Build(); err != nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool.Descriptor())
	}
	return out
}

// Names returns the registered tool names in declaration order.
func (r *Registry) Names() []string {
	if err := r.Build(); err != nil {
		return nil
	}
	return append([]string(nil), r.order...)
}
