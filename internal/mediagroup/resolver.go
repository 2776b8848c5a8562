package mediagroup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/transport"
	logx "tgdispatch/pkg/logx"
)

const (
	// DefaultWindowSize is the number of messages fetched around an anchor.
	DefaultWindowSize = 20
	// MaxAlbumSize is the platform limit on messages in one album.
	MaxAlbumSize = 10
)

var ErrNotMessageLink = errors.New("payload is not a message link")

// Fetcher is the subset of the transport used to read message neighborhoods.
type Fetcher interface {
	FetchWindow(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error)
}

type Options struct {
	// WindowSize is the fetched neighborhood; DefaultWindowSize when <= 0.
	WindowSize int
}

// Resolver finds album siblings. One Resolver may serve many goroutines.
type Resolver struct {
	fetch  Fetcher
	cache  *Cache
	size   int
	margin int
	log    logx.Logger
}

// New returns a resolver reading through cache. A nil cache gets a private one.
func New(fetch Fetcher, cache *Cache, opt Options, log logx.Logger) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	size := opt.WindowSize
	if size <= 0 {
		size = DefaultWindowSize
	}
	margin := MaxAlbumSize - 1
	if half := (size - 1) / 2; margin > half {
		margin = half
	}
	return &Resolver{fetch: fetch, cache: cache, size: size, margin: margin, log: log}
}

// ResolveLink strips the query suffix from a source link, parses it and
// resolves the album of the linked message.
func (r *Resolver) ResolveLink(ctx context.Context, link string) (domain.SourceLink, []domain.MessageRef, error) {
	src, ok := domain.ParseSourceLink(link)
	if !ok {
		return domain.SourceLink{}, nil, ErrNotMessageLink
	}
	refs, err := r.Resolve(ctx, src.Chat, src.ID)
	return src, refs, err
}

// Resolve returns the ordered set of messages in anchorID's album, or the
// singleton anchor when it is standalone. The anchor is always included.
// Completeness is guaranteed only within the fetched window.
func (r *Resolver) Resolve(ctx context.Context, chat string, anchorID int) ([]domain.MessageRef, error) {
	if anchorID <= 0 {
		return nil, fmt.Errorf("invalid anchor id %d", anchorID)
	}
	if refs, ok := r.cache.album(chat, anchorID); ok {
		r.cache.hits.Add(1)
		return refs, nil
	}

	w, err := r.window(ctx, chat, anchorID)
	if err != nil {
		return nil, err
	}

	var anchor *domain.MessageRef
	for i := range w.msgs {
		if w.msgs[i].ID == anchorID {
			anchor = &w.msgs[i]
			break
		}
	}
	if anchor == nil {
		r.log.Debug("anchor missing from fetched window",
			logx.String("chat", chat), logx.Int("anchor", anchorID), logx.Int("window", len(w.msgs)))
		return []domain.MessageRef{{Chat: chat, ID: anchorID}}, nil
	}
	if anchor.GroupKey == "" {
		return []domain.MessageRef{{Chat: chat, ID: anchorID}}, nil
	}

	group := anchor.GroupKey
	seen := map[int]bool{anchorID: true}
	refs := []domain.MessageRef{{Chat: chat, ID: anchorID, GroupKey: group}}
	for _, m := range w.msgs {
		if m.GroupKey != group || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		refs = append(refs, domain.MessageRef{Chat: chat, ID: m.ID, GroupKey: group})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	r.cache.storeAlbum(chat, group, refs)
	return refs, nil
}

// window returns a cached window covering anchorID or fetches a centered one.
// Concurrent requests for the same (chat, origin) share a single fetch.
func (r *Resolver) window(ctx context.Context, chat string, anchorID int) (window, error) {
	if w, ok := r.cache.lookupWindow(chat, anchorID, r.margin); ok {
		r.cache.hits.Add(1)
		return w, nil
	}

	origin := transport.WindowOrigin(anchorID, r.size)
	v, err, shared := r.cache.flight.Do(flightKey(chat, origin, r.size), func() (any, error) {
		// Another flight may have landed between the lookup and Do.
		if w, ok := r.cache.lookupWindow(chat, anchorID, r.margin); ok {
			return w, nil
		}
		r.cache.fetches.Add(1)
		msgs, err := r.fetch.FetchWindow(ctx, chat, anchorID, r.size)
		if err != nil {
			return window{}, err
		}
		w := window{origin: origin, size: r.size, msgs: msgs}
		r.cache.storeWindow(chat, w)
		return w, nil
	})
	if err != nil {
		return window{}, fmt.Errorf("fetch window %s around %d: %w", chat, anchorID, err)
	}
	if shared {
		r.cache.hits.Add(1)
	}
	return v.(window), nil
}
