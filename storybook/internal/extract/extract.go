// Package extract reads the story registry of a loaded Storybook page and
// normalizes it into Story records.
package extract

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

//go:embed snapshot.js
var snapshotJS string

// ErrUnsupportedHost is returned when the page exposes no story registry.
var ErrUnsupportedHost = errors.New("extract: requires Storybook 3.4 or later, please update your Storybook")

// Global evaluates JS in a page's global scope. The expression result must
// be a JSON string.
type Global interface {
	Eval(ctx context.Context, js string) ([]byte, error)
}

// Component is the best-effort source component behind a story.
type Component struct {
	Name     string `json:"name"`
	FilePath string `json:"filePath"`
}

// Story is one normalized story record.
type Story struct {
	ID          string    `json:"storyId,omitempty"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Component   Component `json:"component"`
	FilePath    string    `json:"filePath"`
	HasDocsPage bool      `json:"hasDocsPage"`
}

// Extract snapshots the registry of g and returns its stories in registry
// order.
func Extract(ctx context.Context, g Global) ([]Story, error) {
	raw, err := g.Eval(ctx, snapshotJS)
	if err != nil {
		return nil, fmt.Errorf("extract: snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("extract: decode snapshot: %w", err)
	}
	return FromSnapshot(snap)
}

// FromSnapshot normalizes an already captured registry snapshot.
func FromSnapshot(snap Snapshot) ([]Story, error) {
	api, err := Select(snap)
	if err != nil {
		return nil, err
	}
	paths := componentPaths(snap)

	switch a := api.(type) {
	case ModernAPI:
		out := make([]Story, 0, len(a.Entries))
		for _, e := range a.Entries {
			out = append(out, fromParameters(e.ID, e.Kind, e.Name, e.Parameters, paths))
		}
		return out, nil
	case LegacyAPI:
		var out []Story
		for _, g := range a.Groups {
			for _, s := range g.Stories {
				st := fromParameters("", g.Kind, s.Name, s.Parameters, paths)
				st.FilePath = ""
				st.HasDocsPage = false
				out = append(out, st)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("extract: unknown registry api %T", api)
	}
}

var kindSeparators = regexp.MustCompile(`[|/.]`)

// DisplayName is the last segment of kind split on "|", "/" and ".",
// trimmed.
func DisplayName(kind string) string {
	parts := kindSeparators.Split(kind, -1)
	return strings.TrimSpace(parts[len(parts)-1])
}

func fromParameters(id, kind, name string, p Parameters, paths map[string]string) Story {
	compName := p.Component.name()
	st := Story{
		ID:          id,
		Kind:        kind,
		Name:        name,
		DisplayName: DisplayName(kind),
		Component:   Component{Name: compName, FilePath: paths[compName]},
		HasDocsPage: p.Docs && !p.DocsDisabled,
	}
	if p.FileName != nil {
		st.FilePath = *p.FileName
	}
	return st
}

// componentPaths maps react component display names to their source files.
// Only populated for react hosts.
func componentPaths(snap Snapshot) map[string]string {
	m := make(map[string]string)
	if snap.Env != "react" {
		return m
	}
	for _, c := range snap.ReactClasses {
		m[c.DisplayName] = c.Path
	}
	return m
}
