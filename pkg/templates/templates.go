// Package templates renders the {{PLACEHOLDER}} strings used for commit
// messages.
package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultCommitMessage is used when a project does not configure one.
const DefaultCommitMessage = "Deploy {{BUILD_TAG}}"

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// Render substitutes every {{KEY}} present in data. Unknown placeholders are
// left untouched.
//
//	Render("Deploy {{BUILD_TAG}}", TemplateData{"BUILD_TAG": "jenkins-job-1"})
//	// "Deploy jenkins-job-1"
func Render(content string, data TemplateData) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the distinct placeholder names in content, sorted.
func Placeholders(content string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

// Missing returns the placeholders of content that data cannot fill.
func Missing(content string, data TemplateData) []string {
	var missing []string
	for _, name := range Placeholders(content) {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate rejects templates that are blank or contain unbalanced braces.
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("template is empty")
	}
	rest := placeholderPattern.ReplaceAllString(content, "")
	if strings.Contains(rest, "{{") || strings.Contains(rest, "}}") {
		return fmt.Errorf("template %q has a malformed placeholder", content)
	}
	return nil
}
