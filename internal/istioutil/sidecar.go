// Package istioutil holds small, stateless predicates shared by the C4
// domain checks and the C8 validation engine for recognizing Istio
// sidecar containers and extracting their version.
package istioutil

import (
	"regexp"

	"github.com/vitaliisemenov/guard/internal/platform"
)

const sidecarContainerName = "istio-proxy"

var imageVersionRe = regexp.MustCompile(`:(\d+\.\d+\.\d+)(?:[-@]|$)`)

// ExtractVersion pulls the SemVer out of an image tag such as
// "istio/proxyv2:1.20.1" or "istio/proxyv2:1.20.1-distroless". Returns ""
// if the tag doesn't match; callers should skip such containers rather
// than fail.
func ExtractVersion(image string) string {
	m := imageVersionRe.FindStringSubmatch(image)
	if m == nil {
		return ""
	}
	return m[1]
}

// HasSidecarContainer reports whether any container in the list is the
// Istio proxy sidecar.
func HasSidecarContainer(containers []platform.ContainerInfo) (platform.ContainerInfo, bool) {
	for _, c := range containers {
		if c.Name == sidecarContainerName {
			return c, true
		}
	}
	return platform.ContainerInfo{}, false
}

// HasSidecarInjection reports whether a pod template was selected for
// sidecar injection: a proxy container present, OR the injection status
// annotation present, OR the explicit inject=true annotation. No other
// condition selects.
func HasSidecarInjection(containers []platform.ContainerInfo, annotations map[string]string) bool {
	if _, ok := HasSidecarContainer(containers); ok {
		return true
	}
	if _, ok := annotations["sidecar.istio.io/status"]; ok {
		return true
	}
	if annotations["sidecar.istio.io/inject"] == "true" {
		return true
	}
	return false
}
