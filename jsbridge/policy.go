package jsbridge

import (
	"fmt"
	"path"
	"strings"
)

func normalizeModulePolicyPattern(pattern string) string {
	normalized := strings.TrimSpace(pattern)
	normalized = strings.ReplaceAll(normalized, "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimSuffix(normalized, ".js")
	normalized = path.Clean(normalized)
	if normalized == "." {
		return ""
	}
	return normalized
}

func validatePolicyPatterns(patterns []string, subject, label string, normalize func(string) string) error {
	for _, raw := range patterns {
		pattern := normalize(raw)
		if pattern == "" {
			return fmt.Errorf("jsbridge: %s %s-list pattern cannot be empty", subject, label)
		}
		if _, err := path.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("jsbridge: invalid %s %s-list pattern %q: %w", subject, label, raw, err)
		}
	}
	return nil
}

func policyMatch(pattern, name string) bool {
	if pattern == "*" {
		return name != ""
	}
	matched, err := path.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}

// policy is an allow/deny pair. Deny wins; an empty allow list allows
// everything not denied.
type policy struct {
	allow     []string
	deny      []string
	normalize func(string) string
}

func newModulePolicy(allow, deny []string) policy {
	return policy{allow: allow, deny: deny, normalize: normalizeModulePolicyPattern}
}

func newCapabilityPolicy(allow, deny []string) policy {
	return policy{allow: allow, deny: deny, normalize: strings.TrimSpace}
}

// check returns "" when name is permitted, otherwise "denied" or
// "not allowed".
func (p policy) check(name string) string {
	for _, raw := range p.deny {
		pattern := p.normalize(raw)
		if pattern == "" {
			continue
		}
		if policyMatch(pattern, name) {
			return "denied"
		}
	}

	if len(p.allow) == 0 {
		return ""
	}
	for _, raw := range p.allow {
		pattern := p.normalize(raw)
		if pattern == "" {
			continue
		}
		if policyMatch(pattern, name) {
			return ""
		}
	}
	return "not allowed"
}

func (e *Engine) enforceModulePolicy(specifier string) error {
	module := normalizeModuleName(specifier)
	if module == "" {
		return nil
	}
	if verdict := newModulePolicy(e.config.ModuleAllowList, e.config.ModuleDenyList).check(module); verdict != "" {
		return fmt.Errorf("require: module %q %s by policy", module, verdict)
	}
	return nil
}

func normalizeModuleName(specifier string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(specifier), "\\", "/")
	normalized = path.Clean(normalized)
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimSuffix(normalized, ".js")
	if normalized == "." {
		return ""
	}
	return normalized
}
