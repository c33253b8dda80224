package checks

import "log/slog"

// Registry stores checks indexed by unique name.
type Registry struct {
	checks map[string]Check
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{checks: make(map[string]Check), logger: logger}
}

// Register adds check. A duplicate name is rejected with a warning and
// ignored rather than replacing the existing registration.
func (r *Registry) Register(check Check) {
	name := check.Name()
	if _, exists := r.checks[name]; exists {
		r.logger.Warn("check already registered, ignoring duplicate", "check", name)
		return
	}
	r.checks[name] = check
	r.order = append(r.order, name)
}

// All returns checks in registration order.
func (r *Registry) All() []Check {
	out := make([]Check, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.checks[name])
	}
	return out
}

// Critical returns only checks with IsCritical() true, in registration order.
func (r *Registry) Critical() []Check {
	out := make([]Check, 0, len(r.order))
	for _, name := range r.order {
		if c := r.checks[name]; c.IsCritical() {
			out = append(out, c)
		}
	}
	return out
}

// ByNames returns the checks matching names, in the order names was given.
// Unknown names are logged and skipped.
func (r *Registry) ByNames(names []string) []Check {
	out := make([]Check, 0, len(names))
	for _, name := range names {
		c, ok := r.checks[name]
		if !ok {
			r.logger.Warn("unknown check requested, skipping", "check", name)
			continue
		}
		out = append(out, c)
	}
	return out
}
