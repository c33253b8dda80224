// Package kubernetes adapts client-go to the platform.KubernetesProvider
// capability interface: node/pod listing, workload discovery, sidecar
// container introspection, rollout restarts, and readiness polling.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/vitaliisemenov/guard/internal/platform"
)

const patchTypeMerge = types.MergePatchType

// Config controls connection and retry behavior.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	Logger          *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    200 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		Logger:          slog.Default(),
	}
}

// Provider implements platform.KubernetesProvider against a live cluster
// reached via in-cluster config.
type Provider struct {
	clientset kubernetes.Interface
	config    Config
	logger    *slog.Logger
}

var _ platform.KubernetesProvider = (*Provider)(nil)

// New builds a Provider using in-cluster configuration and verifies
// connectivity with a single discovery call before returning.
func New(config Config) (*Provider, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, NewConnectionError("failed to load in-cluster config", err)
	}
	restConfig.Timeout = config.Timeout

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, NewConnectionError("failed to build clientset", err)
	}

	p := &Provider{clientset: clientset, config: config, logger: config.Logger}
	if _, err := clientset.Discovery().ServerVersion(); err != nil {
		return nil, wrapK8sError("health_check", err)
	}
	return p, nil
}

// NewFromClientset wraps an existing clientset, used by tests with a fake
// client and by callers that already built their own rest.Config.
func NewFromClientset(clientset kubernetes.Interface, config Config) *Provider {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Provider{clientset: clientset, config: config, logger: config.Logger}
}

func (p *Provider) retryWithBackoff(ctx context.Context, op string, fn func() error) error {
	backoff := p.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(p.config.MaxRetryBackoff)))
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return wrapK8sError(op, lastErr)
		}
		p.logger.Warn("k8s operation retrying", "op", op, "attempt", attempt, "error", lastErr)
	}
	return wrapK8sError(op, lastErr)
}

func (p *Provider) GetNodes(ctx context.Context) ([]platform.NodeInfo, error) {
	var nodes *corev1.NodeList
	err := p.retryWithBackoff(ctx, "get_nodes", func() error {
		var err error
		nodes, err = p.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]platform.NodeInfo, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		out = append(out, platform.NodeInfo{Name: n.Name, Ready: nodeIsReady(&n)})
	}
	return out, nil
}

func nodeIsReady(n *corev1.Node) bool {
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func (p *Provider) GetPods(ctx context.Context, namespace string) ([]platform.PodInfo, error) {
	var pods *corev1.PodList
	err := p.retryWithBackoff(ctx, "get_pods", func() error {
		var err error
		pods, err = p.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]platform.PodInfo, 0, len(pods.Items))
	for _, pod := range pods.Items {
		out = append(out, platform.PodInfo{
			Namespace:   pod.Namespace,
			Name:        pod.Name,
			Ready:       podIsReady(&pod),
			Containers:  containerInfos(pod.Spec.Containers),
			Labels:      pod.Labels,
			Annotations: pod.Annotations,
		})
	}
	return out, nil
}

func podIsReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func containerInfos(containers []corev1.Container) []platform.ContainerInfo {
	out := make([]platform.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, platform.ContainerInfo{Name: c.Name, Image: c.Image})
	}
	return out
}

func (p *Provider) GetNamespacesWithLabel(ctx context.Context, labelSelector string) ([]string, error) {
	var list *corev1.NamespaceList
	err := p.retryWithBackoff(ctx, "get_namespaces", func() error {
		var err error
		list, err = p.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		out = append(out, ns.Name)
	}
	return out, nil
}

func (p *Provider) GetWorkloads(ctx context.Context, namespace, kind string) ([]platform.WorkloadRef, error) {
	switch kind {
	case "Deployment":
		var list *appsv1.DeploymentList
		err := p.retryWithBackoff(ctx, "get_deployments", func() error {
			var err error
			list, err = p.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make([]platform.WorkloadRef, 0, len(list.Items))
		for _, d := range list.Items {
			out = append(out, platform.WorkloadRef{Kind: "Deployment", Namespace: d.Namespace, Name: d.Name})
		}
		return out, nil
	case "StatefulSet":
		var list *appsv1.StatefulSetList
		err := p.retryWithBackoff(ctx, "get_statefulsets", func() error {
			var err error
			list, err = p.clientset.AppsV1().StatefulSets(namespace).List(ctx, metav1.ListOptions{})
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make([]platform.WorkloadRef, 0, len(list.Items))
		for _, s := range list.Items {
			out = append(out, platform.WorkloadRef{Kind: "StatefulSet", Namespace: s.Namespace, Name: s.Name})
		}
		return out, nil
	case "DaemonSet":
		var list *appsv1.DaemonSetList
		err := p.retryWithBackoff(ctx, "get_daemonsets", func() error {
			var err error
			list, err = p.clientset.AppsV1().DaemonSets(namespace).List(ctx, metav1.ListOptions{})
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make([]platform.WorkloadRef, 0, len(list.Items))
		for _, s := range list.Items {
			out = append(out, platform.WorkloadRef{Kind: "DaemonSet", Namespace: s.Namespace, Name: s.Name})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported workload kind %q", kind)
	}
}

func (p *Provider) WorkloadPodTemplateContainers(ctx context.Context, ref platform.WorkloadRef) ([]platform.ContainerInfo, map[string]string, bool, error) {
	var containers []corev1.Container
	var annotations map[string]string
	var found bool

	err := p.retryWithBackoff(ctx, "get_pod_template", func() error {
		switch ref.Kind {
		case "Deployment":
			d, err := p.clientset.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			containers = d.Spec.Template.Spec.Containers
			annotations = d.Spec.Template.Annotations
		case "StatefulSet":
			s, err := p.clientset.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			containers = s.Spec.Template.Spec.Containers
			annotations = s.Spec.Template.Annotations
		case "DaemonSet":
			d, err := p.clientset.AppsV1().DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			containers = d.Spec.Template.Spec.Containers
			annotations = d.Spec.Template.Annotations
		default:
			return fmt.Errorf("unsupported workload kind %q", ref.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}

	for _, c := range containers {
		if c.Name == "istio-proxy" {
			found = true
			break
		}
	}
	return containerInfos(containers), annotations, found, nil
}

// RestartWorkload triggers a rollout restart by patching the pod template's
// restart annotation, mirroring `kubectl rollout restart`.
func (p *Provider) RestartWorkload(ctx context.Context, ref platform.WorkloadRef) error {
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"guard.io/restartedAt":%q}}}}}`,
		time.Now().UTC().Format(time.RFC3339),
	)

	return p.retryWithBackoff(ctx, "restart_workload", func() error {
		var err error
		switch ref.Kind {
		case "Deployment":
			_, err = p.clientset.AppsV1().Deployments(ref.Namespace).Patch(ctx, ref.Name, patchTypeMerge, []byte(patch), metav1.PatchOptions{})
		case "StatefulSet":
			_, err = p.clientset.AppsV1().StatefulSets(ref.Namespace).Patch(ctx, ref.Name, patchTypeMerge, []byte(patch), metav1.PatchOptions{})
		case "DaemonSet":
			_, err = p.clientset.AppsV1().DaemonSets(ref.Namespace).Patch(ctx, ref.Name, patchTypeMerge, []byte(patch), metav1.PatchOptions{})
		default:
			return fmt.Errorf("unsupported workload kind %q", ref.Kind)
		}
		return err
	})
}

func (p *Provider) CheckWorkloadReady(ctx context.Context, ref platform.WorkloadRef) (bool, error) {
	var ready bool
	err := p.retryWithBackoff(ctx, "check_workload_ready", func() error {
		switch ref.Kind {
		case "Deployment":
			d, err := p.clientset.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			ready = d.Status.ReadyReplicas == d.Status.Replicas && d.Status.Replicas > 0
		case "StatefulSet":
			s, err := p.clientset.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			ready = s.Status.ReadyReplicas == s.Status.Replicas && s.Status.Replicas > 0
		case "DaemonSet":
			d, err := p.clientset.AppsV1().DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
			if err != nil {
				return err
			}
			ready = d.Status.NumberReady == d.Status.DesiredNumberScheduled && d.Status.DesiredNumberScheduled > 0
		default:
			return fmt.Errorf("unsupported workload kind %q", ref.Kind)
		}
		return nil
	})
	return ready, err
}
