// Package pathutil canonicalizes host-supplied paths into the forward-slash,
// no-trailing-separator form every back-end and cache expects.
package pathutil

import "strings"

// Normalize rewrites s into canonical form: a leading slash, forward-slash
// separators, no empty segments, and no trailing slash (except the root).
// Normalize is pure and idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ReplaceAll(s, `\`, "/")

	segments := strings.Split(s, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		kept = append(kept, seg)
	}

	if len(kept) == 0 {
		return "/"
	}
	return "/" + strings.Join(kept, "/")
}

// Parent returns the canonical parent of a canonical path. Parent("/") is
// "/"; Parent("/a") is "/".
func Parent(canonical string) string {
	if canonical == "/" {
		return "/"
	}
	idx := strings.LastIndexByte(canonical, '/')
	if idx <= 0 {
		return "/"
	}
	return canonical[:idx]
}

// Base returns the leaf segment of a canonical path. Base("/") is "".
func Base(canonical string) string {
	if canonical == "/" {
		return ""
	}
	idx := strings.LastIndexByte(canonical, '/')
	return canonical[idx+1:]
}

// Join joins a canonical parent and a leaf name, returning a canonical path.
func Join(parent, name string) string {
	if parent == "/" {
		return Normalize("/" + name)
	}
	return Normalize(parent + "/" + name)
}
