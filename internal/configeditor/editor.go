// Package configeditor reads and rewrites Flux HelmRelease YAML files:
// dotted-path field updates applied atomically (either every update lands
// or the file is left exactly as read), with an optional backup copy.
package configeditor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/guard/internal/registry"
)

var pathRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Editor applies structured updates to HelmRelease manifests.
type Editor struct{}

func New() *Editor { return &Editor{} }

// SupportsFile reports whether path looks like a HelmRelease manifest:
// a .yaml/.yml extension and kind: HelmRelease.
func (e *Editor) SupportsFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	root := rootMapping(&doc)
	if root == nil {
		return false
	}
	kind, ok := mappingValue(root, "kind")
	return ok && kind.Value == "HelmRelease"
}

// GetCurrentVersion reads spec.chart.spec.version from the file at path.
func (e *Editor) GetCurrentVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", newError("get_current_version", path, "failed to read file", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", newError("get_current_version", path, "invalid yaml", err)
	}

	root := rootMapping(&doc)
	if root == nil {
		return "", newError("get_current_version", path, "empty or invalid document", nil)
	}

	node, err := walkPath(root, []string{"spec", "chart", "spec", "version"}, false)
	if err != nil {
		return "", newError("get_current_version", path, "spec.chart.spec.version not found", err)
	}
	return node.Value, nil
}

// UpdateVersion is the legacy single-field update path: it rewrites only
// spec.chart.spec.version, optionally backing up the original file first.
func (e *Editor) UpdateVersion(path, targetVersion string, backup bool) error {
	return e.ApplyUpgradeSpec(path, &registry.UpgradeSpec{
		Version: targetVersion,
		Updates: []registry.FieldUpdate{{Path: "spec.chart.spec.version", Value: stripLeadingV(targetVersion)}},
	}, backup, false)
}

// ApplyUpgradeSpec is the central operation: parse, optionally back up,
// deep-copy before mutating, apply every FieldUpdate, and only then write
// back. Any failure leaves path byte-identical to what was read.
func (e *Editor) ApplyUpgradeSpec(path string, spec *registry.UpgradeSpec, backup bool, createMissing bool) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return newError("apply_upgrade_spec", path, "failed to read file", err)
	}
	if len(strings.TrimSpace(string(original))) == 0 {
		return newError("apply_upgrade_spec", path, "empty yaml document", nil)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(original, &doc); err != nil {
		return newError("apply_upgrade_spec", path, "invalid yaml", err)
	}

	if backup {
		if err := os.WriteFile(path+".bak", original, 0o644); err != nil {
			return newError("apply_upgrade_spec", path, "failed to write backup", err)
		}
	}

	// Deep-copy before mutation so a failed update never touches doc, and
	// by extension never touches the file.
	working := deepCopyNode(&doc)
	root := rootMapping(working)
	if root == nil {
		return newError("apply_upgrade_spec", path, "empty or invalid document", nil)
	}

	for _, update := range spec.Updates {
		if !pathRe.MatchString(update.Path) {
			return newError("apply_upgrade_spec", path, fmt.Sprintf("invalid field path %q", update.Path), nil)
		}

		parts := strings.Split(update.Path, ".")
		valueNode, err := walkPath(root, parts, createMissing)
		if err != nil {
			return newError("apply_upgrade_spec", path, fmt.Sprintf("failed to resolve path %q", update.Path), err)
		}

		rendered := fmt.Sprintf("%v", update.Value)
		if update.Path == "spec.chart.spec.version" {
			rendered = stripLeadingV(rendered)
		}
		valueNode.Kind = yaml.ScalarNode
		valueNode.Tag = "!!str"
		valueNode.Value = rendered
	}

	out, err := marshalBlockStyle(working)
	if err != nil {
		return newError("apply_upgrade_spec", path, "failed to serialize updated document", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return newError("apply_upgrade_spec", path, "failed to write updated file", err)
	}
	return nil
}

// ValidateConfig performs structural validation: apiVersion present,
// kind == HelmRelease, and the chart version path resolvable.
func (e *Editor) ValidateConfig(path string) (bool, []string) {
	var errs []string

	data, err := os.ReadFile(path)
	if err != nil {
		return false, []string{err.Error()}
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, []string{fmt.Sprintf("invalid yaml: %v", err)}
	}

	root := rootMapping(&doc)
	if root == nil {
		return false, []string{"empty or invalid document"}
	}

	if _, ok := mappingValue(root, "apiVersion"); !ok {
		errs = append(errs, "missing apiVersion")
	}
	kind, ok := mappingValue(root, "kind")
	if !ok || kind.Value != "HelmRelease" {
		errs = append(errs, "kind must be HelmRelease")
	}
	if _, err := walkPath(root, []string{"spec", "chart", "spec", "version"}, false); err != nil {
		errs = append(errs, "missing spec.chart.spec.version")
	}

	return len(errs) == 0, errs
}

func stripLeadingV(version string) string {
	return strings.TrimPrefix(version, "v")
}
