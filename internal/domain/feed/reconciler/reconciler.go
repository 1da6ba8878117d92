// Package reconciler applies change events from the feed to the collection.
// Entities are replaced by id and counters are overwritten with the
// authoritative value, so duplicate or reordered delivery converges.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"feedsync/internal/domain/feed/collection"
	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/normalizer"
	"feedsync/internal/domain/feed/repository"
	"feedsync/pkg/logger"
	"feedsync/pkg/metrics"
)

// maxParentFetches bounds how far up a missing ancestor chain we fetch.
const maxParentFetches = 8

var (
	errUnknownKind = errors.New("unknown entity kind")
	// ErrWatchClosed is returned when a watch is closed while subscribing.
	ErrWatchClosed = errors.New("watch closed")
)

// Fetcher is the read side of the store used for re-fetches.
type Fetcher interface {
	FetchPost(ctx context.Context, id string) (model.RawRecord, error)
	FetchComment(ctx context.Context, id string) (model.RawRecord, error)
	CountComments(ctx context.Context, postID string) (int64, error)
}

type Reconciler struct {
	feed       repository.ChangeFeed
	store      Fetcher
	coll       *collection.Collection
	metrics    *metrics.MetricsCollector
	bufferSize int

	mu      sync.Mutex
	watches map[string]*Watch
}

func New(feed repository.ChangeFeed, store Fetcher, coll *collection.Collection, collector *metrics.MetricsCollector, bufferSize int) *Reconciler {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Reconciler{
		feed:       feed,
		store:      store,
		coll:       coll,
		metrics:    collector,
		bufferSize: bufferSize,
		watches:    make(map[string]*Watch),
	}
}

// Watch subscribes to scope. Watching a scope that is already live returns
// the existing handle.
func (r *Reconciler) Watch(ctx context.Context, scope model.Scope) (*Watch, error) {
	key := scope.Channel()

	r.mu.Lock()
	if w, ok := r.watches[key]; ok && w.State() != Disconnected {
		r.mu.Unlock()
		return w, nil
	}
	w := newWatch(r, scope, r.bufferSize)
	w.state.Store(int32(Subscribing))
	r.watches[key] = w
	r.mu.Unlock()

	sub, err := r.feed.Subscribe(ctx, scope, w.enqueue)
	if err != nil {
		w.state.Store(int32(Disconnected))
		close(w.stopped)
		r.forget(w)
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		_ = sub.Unsubscribe()
		close(w.stopped)
		return nil, fmt.Errorf("subscribe %s: %w", key, ErrWatchClosed)
	default:
	}
	w.sub = sub
	w.state.Store(int32(Live))
	w.mu.Unlock()
	r.metrics.SubscriptionOpened()
	logger.Log.Debug("Subscription live", zap.String("scope", key))

	go w.loop()
	return w, nil
}

// Lookup returns the watch for scope, if one is registered.
func (r *Reconciler) Lookup(scope model.Scope) (*Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[scope.Channel()]
	return w, ok
}

// CloseAll tears down every subscription.
func (r *Reconciler) CloseAll() {
	r.mu.Lock()
	all := make([]*Watch, 0, len(r.watches))
	for _, w := range r.watches {
		all = append(all, w)
	}
	r.mu.Unlock()
	for _, w := range all {
		w.Close()
	}
}

func (r *Reconciler) forget(w *Watch) {
	r.mu.Lock()
	if cur, ok := r.watches[w.scope.Channel()]; ok && cur == w {
		delete(r.watches, w.scope.Channel())
	}
	r.mu.Unlock()
}

// Apply processes one event synchronously. Failures leave the collection
// untouched and are returned after being logged and counted.
func (r *Reconciler) Apply(ctx context.Context, ev model.ChangeEvent) error {
	start := time.Now()
	var err error
	switch ev.Kind {
	case model.KindComment:
		err = r.applyComment(ctx, ev)
	case model.KindPost:
		err = r.applyPost(ctx, ev)
	case model.KindPostCounter:
		err = r.refreshCount(ctx, postIDOf(ev))
	default:
		err = fmt.Errorf("%w %q", errUnknownKind, ev.Kind)
	}

	result := "applied"
	if err != nil {
		result = "dropped"
		logger.Log.Warn("Dropped change event",
			zap.String("event", ev.ID), zap.String("kind", string(ev.Kind)),
			zap.String("type", string(ev.Type)), zap.String("entity", ev.EntityID), zap.Error(err))
	}
	r.metrics.RecordChangeEvent(string(ev.Kind), string(ev.Type), result, time.Since(start))
	return err
}

func (r *Reconciler) applyComment(ctx context.Context, ev model.ChangeEvent) error {
	postID := postIDOf(ev)
	if postID == "" {
		return errors.New("comment event without post id")
	}

	switch ev.Type {
	case model.Inserted, model.Updated:
		cm, own, err := r.resolveComment(ctx, ev)
		if err != nil {
			return err
		}
		if !own {
			cm.LikedByMe = false
			if existing, ok := r.coll.Comment(postID, cm.ID); ok {
				cm.LikedByMe = existing.LikedByMe
			}
		}
		if r.coll.UpsertComment(postID, cm) == collection.Deferred {
			r.fetchAncestors(ctx, postID, cm.ParentID)
		}
	case model.Deleted:
		id := entityIDOf(ev)
		if id == "" {
			return errors.New("delete event without entity id")
		}
		r.coll.RemoveComment(postID, id)
	default:
		return fmt.Errorf("unknown change type %q", ev.Type)
	}

	if err := r.refreshCount(ctx, postID); err != nil {
		// the entity change already applied; the next event heals the count
		logger.Log.Warn("Comment count refresh failed", zap.String("post", postID), zap.Error(err))
	}
	return nil
}

// resolveComment returns the event's comment and whether its like flag was
// read for this viewer, which only holds for a re-fetched record.
func (r *Reconciler) resolveComment(ctx context.Context, ev model.ChangeEvent) (*model.Comment, bool, error) {
	if complete(ev.New) {
		cm := normalizer.NormalizeComment(ev.New)
		if cm.PostID == "" {
			cm.PostID = ev.PostID
		}
		return cm, false, nil
	}
	id := entityIDOf(ev)
	raw, err := r.store.FetchComment(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("fetch comment %s: %w", id, err)
	}
	return normalizer.NormalizeComment(raw), normalizer.HasLikeFlag(raw), nil
}

// fetchAncestors pulls a missing parent (and its missing parents) so a
// buffered reply can be attached. Failures only leave the reply buffered.
func (r *Reconciler) fetchAncestors(ctx context.Context, postID, parentID string) {
	for i := 0; i < maxParentFetches && parentID != ""; i++ {
		raw, err := r.store.FetchComment(ctx, parentID)
		if err != nil {
			logger.Log.Warn("Parent comment fetch failed",
				zap.String("post", postID), zap.String("parent", parentID), zap.Error(err))
			return
		}
		parent := normalizer.NormalizeComment(raw)
		if parent.ID == "" {
			return
		}
		if r.coll.UpsertComment(postID, parent) != collection.Deferred {
			return
		}
		parentID = parent.ParentID
	}
}

func (r *Reconciler) applyPost(ctx context.Context, ev model.ChangeEvent) error {
	id := entityIDOf(ev)
	if id == "" {
		return errors.New("post event without entity id")
	}

	switch ev.Type {
	case model.Inserted, model.Updated:
		raw, own := ev.New, false
		if !complete(raw) {
			fetched, err := r.store.FetchPost(ctx, id)
			if err != nil {
				return fmt.Errorf("fetch post %s: %w", id, err)
			}
			raw, own = fetched, normalizer.HasLikeFlag(fetched)
		}
		p := normalizer.NormalizePost(raw)
		if p.ID == "" {
			p.ID = id
		}
		// bus payloads are shared; the flag belongs to whoever published
		if !own {
			p.LikedByMe = false
			if existing, ok := r.coll.Post(p.ID); ok {
				p.LikedByMe = existing.LikedByMe
			}
		}
		r.coll.UpsertPost(p)
	case model.Deleted:
		if _, _, ok := r.coll.RemovePost(id); ok {
			r.coll.DropComments(id)
		}
	default:
		return fmt.Errorf("unknown change type %q", ev.Type)
	}
	return nil
}

// refreshCount overwrites the comment count with the store's value.
func (r *Reconciler) refreshCount(ctx context.Context, postID string) error {
	if postID == "" {
		return errors.New("counter event without post id")
	}
	n, err := r.store.CountComments(ctx, postID)
	if err != nil {
		return fmt.Errorf("count comments of %s: %w", postID, err)
	}
	r.coll.SetCommentCount(postID, n)
	return nil
}

// complete reports whether an embedded record can be used without a
// re-fetch: it needs its id, content and the joined author profile.
func complete(raw model.RawRecord) bool {
	if raw == nil || raw["id"] == nil {
		return false
	}
	if _, ok := raw["content"]; !ok {
		return false
	}
	return normalizer.HasProfile(raw)
}

func entityIDOf(ev model.ChangeEvent) string {
	if ev.EntityID != "" {
		return ev.EntityID
	}
	for _, raw := range []model.RawRecord{ev.New, ev.Old} {
		if id, ok := raw["id"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func postIDOf(ev model.ChangeEvent) string {
	if ev.PostID != "" {
		return ev.PostID
	}
	for _, raw := range []model.RawRecord{ev.New, ev.Old} {
		if id, ok := raw["post_id"].(string); ok && id != "" {
			return id
		}
	}
	if ev.Kind != model.KindComment {
		return ev.EntityID
	}
	return ""
}
