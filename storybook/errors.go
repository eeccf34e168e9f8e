package storybook

import (
	"errors"

	"github.com/hazyhaar/storylink/launch"
	"github.com/hazyhaar/storylink/storybook/internal/config"
	"github.com/hazyhaar/storylink/storybook/internal/extract"
	"github.com/hazyhaar/storylink/storybook/internal/page"
)

var (
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = config.ErrInvalid

	// ErrStorybookUnreachable is returned by Init when the Storybook URL
	// does not answer.
	ErrStorybookUnreachable = errors.New("storybook: no Storybook server responding")

	// ErrNotReady is returned by Process before a successful Init.
	ErrNotReady = errors.New("storybook: plugin not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("storybook: plugin already initialized")

	// ErrStoryLoad wraps discovery failures surfaced in fail-fast mode.
	ErrStoryLoad = errors.New("storybook: could not load stories from Storybook")

	// ErrInvalidStoryID is returned when a kind or story name has no
	// alphanumeric characters to build an ID from.
	ErrInvalidStoryID = errors.New("storybook: invalid story id")
)

// Errors from the lower layers, re-exported for errors.Is checks.
var (
	ErrInvalidDescriptor = launch.ErrInvalidDescriptor
	ErrLaunchTimeout     = launch.ErrLaunchTimeout
	ErrPageLoadTimeout   = page.ErrPageLoadTimeout
	ErrPageDiagnostics   = page.ErrPageDiagnostics
	ErrUnsupportedHost   = extract.ErrUnsupportedHost
)
