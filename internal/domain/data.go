package domain

import "strings"

// LookupData returns the session data value at a dotted path such as
// "customer.email". An empty path returns the whole data bag.
func (c *CartContent) LookupData(path string) (any, bool) {
	if path == "" {
		if c.Data == nil {
			return map[string]any{}, true
		}
		return c.Data, true
	}

	var cur any = c.Data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetData stores value at a dotted path, creating intermediate objects and
// replacing any non-object found on the way.
func (c *CartContent) SetData(path string, value any) {
	if c.Data == nil {
		c.Data = make(map[string]any)
	}
	parts := strings.Split(path, ".")
	cur := c.Data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// ReplaceData swaps the whole data bag for a copy of data.
func (c *CartContent) ReplaceData(data map[string]any) {
	if data == nil {
		c.Data = nil
		return
	}
	c.Data = copyMap(data)
}
