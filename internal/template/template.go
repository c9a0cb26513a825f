// Package template renders workflow node prompts. Templates use
// {{name}} placeholders substituted from a flat string map; there is no
// conditional or loop syntax, so rendering is plain text replacement.
package template

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Placeholders returns the distinct placeholder names referenced by a
// template, in first-appearance order. Names are the text between the
// braces, verbatim.
func Placeholders(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Substitute replaces every literal {{name}} occurrence with the value
// of the matching vars entry. Names are looked up verbatim, so a key
// containing spaces or punctuation substitutes like any other; a
// placeholder with no matching entry is removed rather than left in the
// output.
func Substitute(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		return vars[match[2:len(match)-2]]
	})
}

// Render builds a node's effective prompt. The template is substituted
// from vars; if the result is blank the whole render is blank, signaling
// the caller to fall back to its own default. Otherwise a non-empty
// prior output is prepended as context, separated by a blank line.
func Render(tmpl string, vars map[string]string, prior string) string {
	substituted := Substitute(tmpl, vars)
	if strings.TrimSpace(substituted) == "" {
		return ""
	}
	if prior == "" {
		return substituted
	}
	return prior + "\n\n" + substituted
}
