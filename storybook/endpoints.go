package storybook

import (
	"context"

	"github.com/hazyhaar/storylink/kit"
)

// Endpoints of the plugin operations, shared by the HTTP and MCP bridges.

func (p *Plugin) processEndpoint() kit.Endpoint {
	return kit.WithLogging(p.logger, "process")(func(ctx context.Context, req any) (any, error) {
		return p.Process(ctx, *req.(*ComponentQuery))
	})
}

func (p *Plugin) supportsEndpoint() kit.Endpoint {
	return kit.WithLogging(p.logger, "supports")(func(_ context.Context, req any) (any, error) {
		return supportsResp{Supported: p.Supports(*req.(*ComponentQuery))}, nil
	})
}

func (p *Plugin) storiesEndpoint() kit.Endpoint {
	return kit.WithLogging(p.logger, "stories")(func(_ context.Context, _ any) (any, error) {
		stories := p.Stories()
		if stories == nil {
			stories = []Story{}
		}
		return stories, nil
	})
}

type supportsResp struct {
	Supported bool `json:"supported"`
}
