// Package shortcode expands {{key}} placeholders in message templates.
package shortcode

import "regexp"

var placeholder = regexp.MustCompile(`\{\{([A-Za-z0-9_.]+)\}\}`)

// Expand replaces every {{key}} whose key is present in ctx with its value.
// Unknown placeholders are left intact so a broken template stays visibly broken.
// Substituted values are not rescanned.
func Expand(tpl string, ctx map[string]string) string {
	if len(ctx) == 0 {
		return tpl
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		key := m[2 : len(m)-2]
		if v, ok := ctx[key]; ok {
			return v
		}
		return m
	})
}

// Placeholders lists the distinct keys referenced by tpl in first-seen order.
func Placeholders(tpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tpl, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Unresolved lists the keys of tpl that ctx does not provide.
func Unresolved(tpl string, ctx map[string]string) []string {
	var out []string
	for _, k := range Placeholders(tpl) {
		if _, ok := ctx[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Merge layers context maps; later maps win.
func Merge(maps ...map[string]string) map[string]string {
	n := 0
	for _, m := range maps {
		n += len(m)
	}
	out := make(map[string]string, n)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
