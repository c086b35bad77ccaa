package capture

import (
	"context"
	"fmt"

	"github.com/vincentbai/browsetrace/internal/browser"
)

// Attach wires the channel to a browser surface: network traffic through the
// surface subscriptions, user interactions through an injected script that
// reports over the cfg.Binding page function. Call it before the first
// navigation.
func (c *Channel) Attach(ctx context.Context, surface browser.Surface, cfg ScriptConfig) error {
	script, err := Script(cfg)
	if err != nil {
		return err
	}

	surface.OnRequest(func(r browser.Request) {
		c.PushRequest(r.Method, r.URL, r.PostData)
	})
	surface.OnResponse(func(r browser.Response) {
		c.PushResponse(r.Status, r.URL)
	})

	if err := surface.Expose(ctx, cfg.Binding, func(payload string) {
		c.PushPayload([]byte(payload))
	}); err != nil {
		return fmt.Errorf("failed to expose %s: %w", cfg.Binding, err)
	}
	if err := surface.Inject(ctx, script); err != nil {
		return fmt.Errorf("failed to inject instrumentation: %w", err)
	}
	return nil
}
