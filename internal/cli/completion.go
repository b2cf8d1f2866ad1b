// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/formchat/internal/commands"
	"github.com/jeranaias/formchat/internal/util"
)

const (
	// completionTimeout bounds a backend lookup made while the user waits
	// on the tab key.
	completionTimeout = 2 * time.Second

	// catalogTTL is how long fetched completion lists are reused.
	catalogTTL = time.Minute
)

// completer builds the tab completer for the chat prompt.
func (s *chatSession) completer(ctx context.Context) *commands.Completer {
	c := commands.NewCompleter(s.cmds)
	c.SessionsFn = func() []commands.Item { return s.catalog.sessions(ctx) }
	c.ResourcesFn = func(category string) []commands.Item { return s.catalog.resources(ctx, category) }
	c.TemplatesFn = func() []commands.Item { return s.catalog.templates(ctx) }
	c.AnswersFn = s.answerItems
	return c
}

// answerItems offers the options of the open question by position.
func (s *chatSession) answerItems() []commands.Item {
	q, ok := openQuestion(s.ctrl.Messages())
	if !ok {
		return nil
	}
	items := make([]commands.Item, len(q.Options))
	for i, opt := range q.Options {
		items[i] = commands.Item{Value: strconv.Itoa(i + 1), Description: opt}
	}
	return items
}

// =============================================================================
// CATALOG CACHE
// =============================================================================

type cachedItems struct {
	items   []commands.Item
	fetched time.Time
}

// catalogCache memoizes completion lists fetched from the backend. Failed
// lookups complete nothing and are retried on the next tab.
type catalogCache struct {
	app *App
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedItems
}

func newCatalogCache(app *App) *catalogCache {
	return &catalogCache{app: app, now: time.Now, entries: make(map[string]cachedItems)}
}

func (c *catalogCache) get(ctx context.Context, key string, fetch func(context.Context) ([]commands.Item, error)) []commands.Item {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetched) < catalogTTL {
		return e.items
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()
	items, err := fetch(ctx)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	c.entries[key] = cachedItems{items: items, fetched: c.now()}
	c.mu.Unlock()
	return items
}

func (c *catalogCache) sessions(ctx context.Context) []commands.Item {
	return c.get(ctx, "sessions", func(ctx context.Context) ([]commands.Item, error) {
		userID, err := c.app.UserID()
		if err != nil {
			return nil, err
		}
		list, err := c.app.Client.ListSessions(ctx, userID, "")
		if err != nil {
			return nil, err
		}
		items := make([]commands.Item, len(list))
		for i, s := range list {
			items[i] = commands.Item{Value: strconv.FormatInt(s.ID, 10), Description: util.TruncateRunes(s.Title, 40)}
		}
		return items, nil
	})
}

func (c *catalogCache) resources(ctx context.Context, category string) []commands.Item {
	return c.get(ctx, "resources:"+category, func(ctx context.Context) ([]commands.Item, error) {
		list, err := c.app.Client.Resources(ctx, category)
		if err != nil {
			return nil, err
		}
		items := make([]commands.Item, len(list))
		for i, r := range list {
			items[i] = commands.Item{Value: strconv.FormatInt(r.ID, 10), Description: util.TruncateRunes(r.Label(), 40)}
		}
		return items, nil
	})
}

func (c *catalogCache) templates(ctx context.Context) []commands.Item {
	return c.get(ctx, "templates", func(ctx context.Context) ([]commands.Item, error) {
		list, err := c.app.Client.Templates(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]commands.Item, len(list))
		for i, t := range list {
			items[i] = commands.Item{Value: t.ID, Description: t.Title}
		}
		return items, nil
	})
}
