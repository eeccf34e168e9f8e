package extract

// Snapshot is the JSON projection of a page's story registry.
type Snapshot struct {
	HasClientAPI bool          `json:"hasClientApi"`
	Env          string        `json:"env"`
	ReactClasses []ReactClass  `json:"reactClasses"`
	Modern       []ModernEntry `json:"modern"`
	Legacy       []LegacyGroup `json:"legacy"`
}

// ReactClass is one STORYBOOK_REACT_CLASSES entry.
type ReactClass struct {
	DisplayName string `json:"displayName"`
	Path        string `json:"path"`
}

// Parameters are the JSON-safe story parameters.
type Parameters struct {
	Component    *ComponentRef `json:"component"`
	FileName     *string       `json:"fileName"`
	Docs         bool          `json:"docs"`
	DocsDisabled bool          `json:"docsDisabled"`
}

// ComponentRef identifies the component object attached to a story.
type ComponentRef struct {
	DocgenDisplayName string `json:"docgenDisplayName"`
	Name              string `json:"name"`
}

func (c *ComponentRef) name() string {
	if c == nil {
		return ""
	}
	if c.DocgenDisplayName != "" {
		return c.DocgenDisplayName
	}
	return c.Name
}

// ModernEntry is one value of _storyStore.extract().
type ModernEntry struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Name       string     `json:"name"`
	Parameters Parameters `json:"parameters"`
}

// LegacyGroup is one getStorybook() group.
type LegacyGroup struct {
	Kind    string        `json:"kind"`
	Stories []LegacyStory `json:"stories"`
}

// LegacyStory is one story of a legacy group.
type LegacyStory struct {
	Name       string     `json:"name"`
	Parameters Parameters `json:"parameters"`
}

// API is the registry generation a page exposes: ModernAPI or LegacyAPI.
type API interface {
	isAPI()
}

// ModernAPI is the Storybook 5+ store with extract().
type ModernAPI struct {
	Entries []ModernEntry
}

// LegacyAPI is the Storybook 4 and earlier getStorybook() enumeration.
type LegacyAPI struct {
	Groups []LegacyGroup
}

func (ModernAPI) isAPI() {}
func (LegacyAPI) isAPI() {}

// Select picks the registry API once. The modern store wins when both are
// present.
func Select(snap Snapshot) (API, error) {
	switch {
	case !snap.HasClientAPI:
		return nil, ErrUnsupportedHost
	case snap.Modern != nil:
		return ModernAPI{Entries: snap.Modern}, nil
	case snap.Legacy != nil:
		return LegacyAPI{Groups: snap.Legacy}, nil
	default:
		return nil, ErrUnsupportedHost
	}
}
