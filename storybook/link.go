package storybook

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hazyhaar/storylink/storybook/internal/config"
)

// Link formats.
const (
	FormatNew = config.FormatNew
	FormatOld = config.FormatOld
)

// LinkOptions selects the link flavour.
type LinkOptions struct {
	// Format is FormatNew (default) or FormatOld.
	Format string
	// UseDocsPage links to the docs view of stories that have one.
	UseDocsPage bool
}

var (
	punctuation = regexp.MustCompile("[ ’–—―′¿'`~!@#$%^&*()_|+\\-=?;:'\",.<>{}\\[\\]\\\\/]")
	dashes      = regexp.MustCompile(`-+`)
	fileExt     = regexp.MustCompile(`\.\w+$`)
)

// Sanitize turns a kind or story name into an ID segment the way Storybook
// does: lowercase, punctuation to "-", repeated dashes collapsed, outer
// dashes trimmed.
func Sanitize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, "-")
	s = dashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func sanitizeSafe(s, part string) (string, error) {
	out := Sanitize(s)
	if out == "" {
		return "", fmt.Errorf("%w: %s %q must include alphanumeric characters", ErrInvalidStoryID, part, s)
	}
	return out, nil
}

// ToID builds the story ID Storybook assigns to kind and name.
func ToID(kind, name string) (string, error) {
	k, err := sanitizeSafe(kind, "kind")
	if err != nil {
		return "", err
	}
	n, err := sanitizeSafe(name, "name")
	if err != nil {
		return "", err
	}
	return k + "--" + n, nil
}

// BuildURL builds the deep link to ref under base. A discovered story
// without an ID comes from a host that only understands the query form, so
// it gets that form whatever the format.
func BuildURL(base string, ref StoryRef, opts LinkOptions) (string, error) {
	if opts.Format == FormatOld || (ref.Scope == ScopeStory && ref.ID == "") {
		q := "selectedKind=" + encode(ref.Kind)
		if ref.Scope != ScopeGroup && ref.Name != "" {
			q += "&selectedStory=" + encode(ref.Name)
		}
		return withQuery(base, q), nil
	}

	id := ref.ID
	switch ref.Scope {
	case ScopeGroup:
		k, err := sanitizeSafe(ref.Kind, "kind")
		if err != nil {
			return "", err
		}
		id = k + "--*"
	case ScopeDeclared:
		if id == "" {
			var err error
			if id, err = ToID(ref.Kind, ref.Name); err != nil {
				return "", err
			}
		}
	}

	viewMode := "story"
	if ref.HasDocsPage && opts.UseDocsPage && !strings.HasSuffix(base, "iframe.html") {
		viewMode = "docs"
	}
	return withQuery(base, "path=/"+viewMode+"/"+id), nil
}

// encode percent-encodes a query value strictly: everything but
// alphanumerics and "-_.~" is escaped, spaces as %20.
func encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// withQuery appends q to base. A "/" goes before the query unless the base
// path names a file; existing trailing slashes collapse.
func withQuery(base, q string) string {
	slash := useTrailingSlash(base)

	head, existing, _ := strings.Cut(base, "?")
	head = strings.TrimRight(head, "/")
	if slash {
		head += "/"
	}
	if existing != "" {
		return head + "?" + existing + "&" + q
	}
	return head + "?" + q
}

func useTrailingSlash(base string) bool {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return !fileExt.MatchString(u.Path)
}
