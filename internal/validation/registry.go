package validation

import "log/slog"

// Registry stores validators indexed by unique name. It mirrors checks.Registry.
type Registry struct {
	validators map[string]Validator
	order      []string
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{validators: make(map[string]Validator), logger: logger}
}

// Register adds v. A duplicate name is rejected with a warning and ignored.
func (r *Registry) Register(v Validator) {
	name := v.Name()
	if _, exists := r.validators[name]; exists {
		r.logger.Warn("validator already registered, ignoring duplicate", "validator", name)
		return
	}
	r.validators[name] = v
	r.order = append(r.order, name)
}

// Remove drops a validator by name, if present.
func (r *Registry) Remove(name string) {
	if _, ok := r.validators[name]; !ok {
		return
	}
	delete(r.validators, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns validators in registration order.
func (r *Registry) All() []Validator {
	out := make([]Validator, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.validators[name])
	}
	return out
}

// Critical returns only validators with IsCritical() true, in registration order.
func (r *Registry) Critical() []Validator {
	out := make([]Validator, 0, len(r.order))
	for _, name := range r.order {
		if v := r.validators[name]; v.IsCritical() {
			out = append(out, v)
		}
	}
	return out
}

// ByNames returns the validators matching names, in the order names was
// given. Unknown names are logged and skipped.
func (r *Registry) ByNames(names []string) []Validator {
	out := make([]Validator, 0, len(names))
	for _, name := range names {
		v, ok := r.validators[name]
		if !ok {
			r.logger.Warn("unknown validator requested, skipping", "validator", name)
			continue
		}
		out = append(out, v)
	}
	return out
}

// RequiredMetrics unions the required metrics across every registered
// validator, deduplicated.
func (r *Registry) RequiredMetrics() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range r.All() {
		for _, m := range v.RequiredMetrics() {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out
}
