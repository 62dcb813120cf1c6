package coalesce

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/ghostbridge/internal/ir"
)

// DefaultDelimiter separates a name prefix from the rest of an event name.
const DefaultDelimiter = ":"

// Func transforms a raw payload into its cached form. It must be pure and
// must not block. A non-nil error marks the payload as malformed.
type Func func(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error)

// Registry maps event names to coalescers.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	delimiter string
	exact     map[string]Func
	prefix    map[string]Func
}

// Option configures a Registry.
type Option func(*Registry)

// WithDelimiter sets the prefix delimiter. An empty delimiter disables
// prefix matching.
func WithDelimiter(d string) Option {
	return func(r *Registry) {
		r.delimiter = d
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		delimiter: DefaultDelimiter,
		exact:     make(map[string]Func),
		prefix:    make(map[string]Func),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Delimiter returns the prefix delimiter.
func (r *Registry) Delimiter() string {
	return r.delimiter
}

// Register installs fn for exactly name, replacing any previous one.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[name] = fn
}

// RegisterPrefix installs fn for every name whose segment before the
// delimiter equals prefix. Names without the delimiter never match.
func (r *Registry) RegisterPrefix(prefix string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix[prefix] = fn
}

// Lookup returns the coalescer for name. Exact registrations win over
// prefix registrations.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.exact[name]; ok {
		return fn, true
	}
	if r.delimiter == "" {
		return nil, false
	}
	head, _, found := strings.Cut(name, r.delimiter)
	if !found {
		return nil, false
	}
	fn, ok := r.prefix[head]
	return fn, ok
}

// Apply runs the coalescer for name. The raw payload passes through
// unchanged when none is registered.
func (r *Registry) Apply(name string, reported ir.MutationID, raw ir.IRValue) (ir.IRValue, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return raw, nil
	}
	out, err := fn(name, reported, raw)
	if err != nil {
		return nil, fmt.Errorf("coalesce %s: %w", name, err)
	}
	return out, nil
}

// Names lists registered exact names and prefixes, sorted. Prefixes are
// rendered with the delimiter and a trailing "*".
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exact)+len(r.prefix))
	for name := range r.exact {
		out = append(out, name)
	}
	for p := range r.prefix {
		out = append(out, p+r.delimiter+"*")
	}
	sort.Strings(out)
	return out
}
