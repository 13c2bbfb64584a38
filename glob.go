package msuncap

import "github.com/bmatcuk/doublestar/v4"

// globMatch wires entry-name filtering to doublestar so a "**/*.html"
// style pattern behaves the same here as it does in any other tool that
// consumes this library alongside it (§6).
func globMatch(pattern, name string) (bool, error) {
	return doublestar.Match(pattern, name)
}
