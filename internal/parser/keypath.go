package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is one hop of a KeyPath: an object key or an array index.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// KeyPath is a declarative route through decoded JSON, written as
// "a.b[0].c".
type KeyPath []Step

// ParseKeyPath parses the dotted form of a key path.
func ParseKeyPath(path string) (KeyPath, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty key path")
	}

	var kp KeyPath
	for _, segment := range strings.Split(path, ".") {
		key := segment
		var indexes []int
		if i := strings.IndexByte(segment, '['); i >= 0 {
			key = segment[:i]
			rest := segment[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("invalid key path segment %q", segment)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("unterminated index in %q", segment)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid index in %q", segment)
				}
				indexes = append(indexes, n)
				rest = rest[end+1:]
			}
		}
		if key == "" && len(indexes) == 0 {
			return nil, fmt.Errorf("empty segment in key path %q", path)
		}
		if key != "" {
			kp = append(kp, Step{Key: key})
		}
		for _, n := range indexes {
			kp = append(kp, Step{Index: n, IsIndex: true})
		}
	}
	return kp, nil
}

// MustKeyPath is ParseKeyPath for paths that are compile-time constants.
func MustKeyPath(path string) KeyPath {
	kp, err := ParseKeyPath(path)
	if err != nil {
		panic(err)
	}
	return kp
}

func (kp KeyPath) String() string {
	var b strings.Builder
	for i, s := range kp {
		if i > 0 && !s.IsIndex {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// WalkError names the first step of a path that could not be followed.
type WalkError struct {
	// Path is the route up to and including the failing step.
	Path KeyPath
	// Missing is true when the step was absent, false when the value at
	// that point had the wrong shape.
	Missing bool
}

func (e *WalkError) Error() string {
	if e.Missing {
		return "missing-key: " + e.Path.String()
	}
	return "unexpected-type: " + e.Path.String()
}

// Walk follows the path through values produced by encoding/json.
func (kp KeyPath) Walk(v any) (any, *WalkError) {
	cur := v
	for i, step := range kp {
		if step.IsIndex {
			arr, ok := cur.([]any)
			if !ok {
				return nil, &WalkError{Path: kp[:i+1], Missing: cur == nil}
			}
			if step.Index >= len(arr) {
				return nil, &WalkError{Path: kp[:i+1], Missing: true}
			}
			cur = arr[step.Index]
			continue
		}

		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, &WalkError{Path: kp[:i+1], Missing: cur == nil}
		}
		next, ok := obj[step.Key]
		if !ok || next == nil {
			return nil, &WalkError{Path: kp[:i+1], Missing: true}
		}
		cur = next
	}
	return cur, nil
}

// Lookup is Walk without the error detail.
func (kp KeyPath) Lookup(v any) (any, bool) {
	out, err := kp.Walk(v)
	return out, err == nil
}
