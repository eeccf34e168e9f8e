package storybook

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var kebab = regexp.MustCompile(`-([a-z])`)

// NameFromPath derives the component name a file most likely defines:
// "components/Button/index.tsx" → "Button", "date-picker.tsx" →
// "DatePicker". Only the first dash is camel-cased.
func NameFromPath(p string) string {
	base := filepath.Base(p)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "index" {
		name = filepath.Base(filepath.Dir(p))
	}

	if r, size := utf8.DecodeRuneInString(name); r != utf8.RuneError {
		name = string(unicode.ToUpper(r)) + name[size:]
	}
	if loc := kebab.FindStringSubmatchIndex(name); loc != nil {
		name = name[:loc[0]] + strings.ToUpper(name[loc[2]:loc[3]]) + name[loc[1]:]
	}
	return name
}

// pathsEqual compares two file paths after cleaning. Empty paths are never
// equal to anything.
func pathsEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// Match returns the stories, in discovery order, that belong to the
// component at path: the story file or the component file is path, or the
// component name or display name equals the name derived from path.
func Match(stories []Story, path string) []Story {
	name := NameFromPath(path)
	var out []Story
	for _, s := range stories {
		if pathsEqual(path, s.Component.FilePath) ||
			pathsEqual(path, s.FilePath) ||
			(name != "" && s.Component.Name == name) ||
			(name != "" && s.DisplayName == name) {
			out = append(out, s)
		}
	}
	return out
}

// SelectStatic resolves an author-declared selector against the discovered
// stories. With no discovered stories, refs are synthesized so that links
// can still be built.
func SelectStatic(stories []Story, sel *Selector, useDocsPage bool) []StoryRef {
	if sel == nil || sel.Kind == "" {
		return nil
	}
	loaded := len(stories) > 0

	if len(sel.Stories) == 0 {
		if !loaded {
			return []StoryRef{{Scope: ScopeGroup, Kind: sel.Kind}}
		}
		var out []StoryRef
		for _, s := range stories {
			if s.Kind == sel.Kind {
				out = append(out, RefOf(s))
			}
		}
		return out
	}

	out := make([]StoryRef, 0, len(sel.Stories))
	for _, name := range sel.Stories {
		if !loaded {
			// An invalid ID is left empty; BuildURL reports it.
			id, _ := ToID(sel.Kind, name)
			out = append(out, StoryRef{
				Scope:       ScopeDeclared,
				ID:          id,
				Kind:        sel.Kind,
				Name:        name,
				HasDocsPage: useDocsPage,
			})
			continue
		}
		for _, s := range stories {
			if s.Kind == sel.Kind && s.Name == name {
				out = append(out, RefOf(s))
				break
			}
		}
	}
	return out
}
