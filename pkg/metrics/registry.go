// Package metrics provides Prometheus instrumentation for guard.
//
// Unlike a package-level singleton, Registry is constructed once at process
// startup and passed down through the component constructors that need it.
// This keeps metric registration testable: a test can build its own
// prometheus.Registry and Registry without touching global state, and can
// construct two Registry instances in the same process (e.g. one per batch
// runner in a test suite) without a "duplicate metrics collector" panic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups guard's metric categories under one namespace and one
// underlying prometheus.Registerer.
//
// Naming convention: guard_<category>_<name>_<unit>.
type Registry struct {
	namespace string
	reg       prometheus.Registerer
	factory   promauto.Factory

	batch      *BatchMetrics
	checks     *CheckMetrics
	validators *ValidatorMetrics
	lock       *LockMetrics
	gitops     *GitOpsMetrics
	retry      *RetryMetrics
}

// NewRegistry builds a Registry backed by reg. Pass prometheus.NewRegistry()
// for an isolated registry (tests, multiple instances in one process), or
// prometheus.DefaultRegisterer to expose metrics on the process-wide
// /metrics endpoint.
func NewRegistry(namespace string, reg prometheus.Registerer) *Registry {
	if namespace == "" {
		namespace = "guard"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{
		namespace: namespace,
		reg:       reg,
		factory:   promauto.With(reg),
	}

	r.batch = newBatchMetrics(r.factory, namespace)
	r.checks = newCheckMetrics(r.factory, namespace)
	r.validators = newValidatorMetrics(r.factory, namespace)
	r.lock = newLockMetrics(r.factory, namespace)
	r.gitops = newGitOpsMetrics(r.factory, namespace)
	r.retry = newRetryMetrics(r.factory, namespace)

	return r
}

// Batch returns the batch-runner metric category (C10).
func (r *Registry) Batch() *BatchMetrics { return r.batch }

// Checks returns the pre-flight check metric category (C3/C4).
func (r *Registry) Checks() *CheckMetrics { return r.checks }

// Validators returns the post-upgrade validation metric category (C7/C8).
func (r *Registry) Validators() *ValidatorMetrics { return r.validators }

// Lock returns the distributed lock metric category (C2).
func (r *Registry) Lock() *LockMetrics { return r.lock }

// GitOps returns the merge request / rollback metric category (C5/C9).
func (r *Registry) GitOps() *GitOpsMetrics { return r.gitops }

// Retry returns the retry/backoff metric category (internal/resilience).
func (r *Registry) Retry() *RetryMetrics { return r.retry }

// Namespace returns the configured Prometheus namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Registerer exposes the underlying prometheus.Registerer for components
// that need to register their own collectors (e.g. a connection pool).
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }
