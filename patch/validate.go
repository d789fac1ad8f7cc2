package patch

import (
	"fmt"
	"strings"
)

// Allowed is a set of pointer patterns; a "*" segment matches any single segment.
type Allowed map[string]bool

func AllowedPaths(patterns ...string) Allowed {
	allowed := make(Allowed, len(patterns))
	for _, p := range patterns {
		allowed[p] = true
	}
	return allowed
}

// Validate rejects any operation whose path is outside allowed. An empty set allows everything.
func Validate(ops []Operation, allowed Allowed) error {
	for i, op := range ops {
		switch op.Op {
		case OperationAdd, OperationReplace, OperationRemove:
		default:
			return fmt.Errorf("operation %d: unsupported op %q", i, op.Op)
		}
		if !allowed.Match(op.Path) {
			return fmt.Errorf("operation %d: path %q is not in the allowed paths set", i, op.Path)
		}
	}
	return nil
}

func (a Allowed) Match(path string) bool {
	if len(a) == 0 || a[path] {
		return true
	}
	segments := strings.Split(path, "/")
	for pattern := range a {
		if !strings.Contains(pattern, "*") {
			continue
		}
		if matchSegments(strings.Split(pattern, "/"), segments) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, seg := range pattern {
		if seg != "*" && seg != segments[i] {
			return false
		}
	}
	return true
}
