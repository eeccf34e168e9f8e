package storybook

import "github.com/hazyhaar/storylink/storybook/internal/extract"

// Story is one normalized story discovered from a Storybook instance.
type Story = extract.Story

// Component is the best-effort source component behind a story.
type Component = extract.Component

// Selector is an author-declared static story selector: a group (kind)
// and optionally the story names within it.
type Selector struct {
	Kind    string   `json:"kind" yaml:"kind"`
	Stories []string `json:"stories,omitempty" yaml:"stories"`
}

// ComponentQuery is the host's description of one design component.
type ComponentQuery struct {
	Path      string    `json:"path" yaml:"path"`
	Storybook *Selector `json:"storybook,omitempty" yaml:"storybook"`
}

// LinkTypeStorybook tags every link this plugin produces.
const LinkTypeStorybook = "storybook"

// Link is one deep link into the Storybook UI.
type Link struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ComponentData is the answer to a ComponentQuery.
type ComponentData struct {
	Links []Link `json:"links"`
}

// Scope discriminates what a StoryRef points at.
type Scope int

const (
	// ScopeStory points at one discovered story, by ID when known, else
	// by a kind and name query.
	ScopeStory Scope = iota
	// ScopeGroup points at every story of a kind.
	ScopeGroup
	// ScopeDeclared points at a story named by a selector. Its ID is
	// derived from kind and name.
	ScopeDeclared
)

// StoryRef is what the link builder needs to know about a link target.
type StoryRef struct {
	Scope       Scope
	ID          string
	Kind        string
	Name        string
	HasDocsPage bool
}

// RefOf summarizes a discovered story.
func RefOf(s Story) StoryRef {
	return StoryRef{
		Scope:       ScopeStory,
		ID:          s.ID,
		Kind:        s.Kind,
		Name:        s.Name,
		HasDocsPage: s.HasDocsPage,
	}
}
