package task

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Render resolves a templated field against the context values.
// Strings without template actions are returned unchanged. Missing keys are errors.
func (c *Context) Render(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := template.New("field").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", s, err)
	}
	var data map[string]any
	if c != nil {
		data = c.Values
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", s, err)
	}
	return buf.String(), nil
}

// RenderMap renders every value of m and returns a new map.
func (c *Context) RenderMap(m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		r, err := c.Render(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

// RenderAny renders strings nested in maps and slices, leaving other values as they are.
func (c *Context) RenderAny(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return c.Render(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := c.RenderAny(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := c.RenderAny(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}
