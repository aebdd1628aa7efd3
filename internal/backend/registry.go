package backend

import "github.com/inferswitch/gateway/internal/config"

// Registry is the name -> Adapter lookup the pipeline consumes when
// iterating a router.Decision's candidates.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

// BuildRegistry constructs one Adapter per configured backend. tokens
// supplies the OAuth token provider for any backend whose AuthMode is
// oauth, keyed by backend name; a backend in oauth mode with no entry
// fails lazily on first use rather than at startup, since the OAuth
// flow may not have completed yet.
func BuildRegistry(cfg config.Config, tokens map[string]TokenProvider) *Registry {
	reg := NewRegistry()
	for name, b := range cfg.Backends {
		switch b.Kind {
		case config.KindAnthropic:
			reg.Register(NewAnthropicAdapter(b, tokens[name], cfg.ProxyMode))
		default:
			reg.Register(NewOpenAICompatAdapter(b, cfg.ProxyMode))
		}
	}
	return reg
}
