package patch

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Apply validates ops against allowed and applies them to current as one unit.
// On error the returned value is current, untouched.
func Apply[T any](current T, ops []Operation, allowed Allowed) (T, error) {
	if len(ops) == 0 {
		return current, nil
	}
	if err := Validate(ops, allowed); err != nil {
		return current, err
	}

	currentJSON, err := sonic.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("marshal current state: %w", err)
	}

	ops = Fix(currentJSON, ops)
	if len(ops) == 0 {
		return current, nil
	}

	patchJSON, err := sonic.Marshal(ops)
	if err != nil {
		return current, fmt.Errorf("marshal patch operations: %w", err)
	}
	decoded, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return current, fmt.Errorf("decode patch: %w", err)
	}
	modifiedJSON, err := decoded.Apply(currentJSON)
	if err != nil {
		return current, fmt.Errorf("apply patch: %w", err)
	}

	var result T
	if err := sonic.Unmarshal(modifiedJSON, &result); err != nil {
		return current, fmt.Errorf("patch result does not fit %T: %w", current, err)
	}
	return result, nil
}

// Fix turns replace-on-missing into add and drops remove-on-missing.
func Fix(currentJSON []byte, ops []Operation) []Operation {
	var doc any
	if err := sonic.Unmarshal(currentJSON, &doc); err != nil {
		return ops
	}

	fixed := make([]Operation, 0, len(ops))
	for _, op := range ops {
		switch op.Op {
		case OperationReplace:
			if !Exists(doc, op.Path) {
				op.Op = OperationAdd
			}
			fixed = append(fixed, op)
		case OperationRemove:
			if Exists(doc, op.Path) {
				fixed = append(fixed, op)
			}
		default:
			fixed = append(fixed, op)
		}
	}
	return fixed
}

// Exists reports whether pointer resolves inside doc.
func Exists(doc any, pointer string) bool {
	cur := doc
	for _, token := range Segments(pointer) {
		switch node := cur.(type) {
		case map[string]any:
			value, ok := node[token]
			if !ok {
				return false
			}
			cur = value
		case []any:
			index, err := strconv.Atoi(token)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			cur = node[index]
		default:
			return false
		}
	}
	return true
}
