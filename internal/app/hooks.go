package app

import (
	"context"
	"encoding/json"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/roomguard/internal/plugin"
)

// maxConcurrentHooks bounds how many plugins run at once for one outcome.
const maxConcurrentHooks = 4

// fireHooks runs every enabled binding for ev in the background.
func (a *App) fireHooks(ev plugin.Event) {
	if a.config.Store == nil {
		return
	}

	bindings, err := a.config.Store.Bindings().Match(ev.Room, ev.Outcome)
	if err != nil {
		log.Printf("Failed to load hooks for %s in room %s: %v", ev.Outcome, ev.Room, err)
		return
	}
	if len(bindings) == 0 {
		return
	}

	a.hooks.Add(1)
	go func() {
		defer a.hooks.Done()

		g, ctx := errgroup.WithContext(context.Background())
		g.SetLimit(maxConcurrentHooks)

		for _, b := range bindings {
			p, err := a.pluginMgr.Get(b.PluginName)
			if err != nil {
				log.Printf("Hook %s: plugin %s: %v", b.ID, b.PluginName, err)
				continue
			}
			if len(p.Manifest.Actions) > 0 && !p.Manifest.HasAction(b.ActionName) {
				log.Printf("Hook %s: plugin %s has no action %s", b.ID, b.PluginName, b.ActionName)
				continue
			}

			req := &plugin.Request{
				Action: b.ActionName,
				Event:  ev,
				Config: json.RawMessage(b.Config),
			}
			bindingID := b.ID
			g.Go(func() error {
				resp, err := a.pluginExec.Execute(ctx, p, req)
				if err != nil {
					log.Printf("Hook %s failed: %v", bindingID, err)
					return nil
				}
				if !resp.Success {
					log.Printf("Hook %s: %s/%s reported: %s", bindingID, p.Manifest.Name, req.Action, resp.Error)
				}
				return nil
			})
		}
		g.Wait()
	}()
}

// WaitHooks blocks until all running hooks have finished.
func (a *App) WaitHooks() {
	a.hooks.Wait()
}
