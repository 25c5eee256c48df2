package docstore

// Lookup walks a normalized tree and returns the value at segments, or nil.
func Lookup(root map[string]any, segments []string) any {
	var node any = root
	for _, seg := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		if node, ok = m[seg]; !ok {
			return nil
		}
	}
	return node
}

// Assign writes value at segments, replacing any non-object on the way.
func Assign(root map[string]any, segments []string, value any) {
	node := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

// Delete removes the value at segments and prunes parents left empty.
func Delete(node map[string]any, segments []string) bool {
	seg := segments[0]
	if len(segments) == 1 {
		if _, ok := node[seg]; !ok {
			return false
		}
		delete(node, seg)
		return true
	}
	child, ok := node[seg].(map[string]any)
	if !ok {
		return false
	}
	removed := Delete(child, segments[1:])
	if removed && len(child) == 0 {
		delete(node, seg)
	}
	return removed
}
