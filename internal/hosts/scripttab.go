package hosts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ScriptTabAdapter turns a deferred link into a real one by clicking the
// server entry on the episode page and watching where the page script goes.
type ScriptTabAdapter struct {
	surface browser.Surface
	wait    time.Duration
	open    browser.OpenOptions
}

// NewScriptTabAdapter binds the adapter to a live browser session. wait
// bounds how long a click may take to spawn a tab or navigate.
func NewScriptTabAdapter(surface browser.Surface, wait time.Duration, open browser.OpenOptions) *ScriptTabAdapter {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &ScriptTabAdapter{surface: surface, wait: wait, open: open}
}

// ScriptIndexSelector is the server entry a deferred link points at
func ScriptIndexSelector(index int) string {
	return fmt.Sprintf("a[data-index='%d']", index)
}

func (a *ScriptTabAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	index, ok := link.ScriptIndex()
	if !ok {
		return nil, stepErr(ScriptTab, "index", fmt.Errorf("not a deferred link: %s", link.URL))
	}
	if link.PageURL != "" && a.surface.URL() != link.PageURL {
		if err := browser.Open(ctx, a.surface, link.PageURL, a.open); err != nil {
			return nil, stepErr(ScriptTab, "episode page", err)
		}
	}

	before, err := a.surface.Tabs(ctx)
	if err != nil {
		return nil, stepErr(ScriptTab, "tabs", err)
	}
	known := make(map[string]bool, len(before))
	for _, u := range before {
		known[u] = true
	}
	origin := a.surface.URL()

	if err := a.surface.Click(ctx, ScriptIndexSelector(index)); err != nil {
		return nil, stepErr(ScriptTab, "click", err)
	}

	var target string
	err = util.Poll(ctx, util.Backoff{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Limit: a.wait},
		func(ctx context.Context) (bool, error) {
			tabs, err := a.surface.Tabs(ctx)
			if err != nil {
				return false, err
			}
			for _, u := range tabs {
				if !known[u] && usableTabURL(u) {
					target = u
					return true, nil
				}
			}
			if cur := a.surface.URL(); cur != origin && usableTabURL(cur) {
				target = cur
				return true, nil
			}
			return false, nil
		})

	if cerr := a.surface.CloseSpawnedTabs(ctx); cerr != nil {
		util.Debug("closing spawned tabs", "err", cerr)
	}
	if target != "" && a.surface.URL() != origin && link.PageURL != "" {
		// leave the session on the episode page for the next deferred link
		if oerr := browser.Open(ctx, a.surface, link.PageURL, a.open); oerr != nil && browser.IsFatal(oerr) {
			return nil, stepErr(ScriptTab, "return to episode page", oerr)
		}
	}

	if err != nil {
		if errors.Is(err, util.ErrPollTimeout) {
			return nil, stepErr(ScriptTab, "navigation", fmt.Errorf("server %d opened nothing within %s", index, a.wait))
		}
		return nil, stepErr(ScriptTab, "navigation", err)
	}
	util.Debug("deferred link resolved", "index", index, "url", target)
	return &Resolution{Kind: ScriptTab, URL: target}, nil
}

func usableTabURL(u string) bool {
	return u != "" && !strings.HasPrefix(u, "about:") && !strings.HasPrefix(u, "chrome-error:")
}
