//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
)

// PathPattern scopes a budget config to URL paths, using robots.txt syntax:
// the pattern must begin with "/", "*" matches any run of characters, and a
// trailing "$" anchors the match to the end of the path. The empty pattern
// matches every path.
type PathPattern string

// Validate checks the pattern syntax.
func (p PathPattern) Validate() error {
	if p == "" {
		return nil
	}
	s := string(p)
	if !strings.HasPrefix(s, "/") {
		return errors.New("path pattern must begin with /")
	}
	if i := strings.Index(s, "$"); i >= 0 && i != len(s)-1 {
		return errors.New("path pattern may use $ only as the final character")
	}
	return nil
}

// Matches reports whether the given URL path satisfies the pattern.
func (p PathPattern) Matches(path string) bool {
	pattern := string(p)
	if pattern == "" {
		return true
	}
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = pattern[:len(pattern)-1]
	}

	segments := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, segments[0]) {
		return false
	}
	remainder := path[len(segments[0]):]
	if len(segments) == 1 {
		if anchored {
			return remainder == ""
		}
		return true
	}

	middle := segments[1:]
	last := ""
	if anchored {
		last = middle[len(middle)-1]
		middle = middle[:len(middle)-1]
	}
	for _, seg := range middle {
		if seg == "" {
			continue
		}
		idx := strings.Index(remainder, seg)
		if idx < 0 {
			return false
		}
		remainder = remainder[idx+len(seg):]
	}
	if anchored {
		return strings.HasSuffix(remainder, last)
	}
	return true
}
