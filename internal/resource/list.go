package resource

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"goflare.io/freshen/internal/cache"
	"goflare.io/freshen/models"
	"goflare.io/freshen/utils"
)

// ListStore is a Store of items with local mutation helpers. Mutations
// apply to every mounted view at once and are persisted in the background;
// nothing is sent to the API.
type ListStore struct {
	*Store[[]models.Item]
}

// NewListStore creates the store of a list descriptor.
func NewListStore(desc Descriptor[[]models.Item], engine *cache.Engine, fetcher Fetcher, network OnlineNotifier, logger *zap.Logger) *ListStore {
	return &ListStore{Store: NewStore(desc, engine, fetcher, network, logger)}
}

// ListInstance is a mounted view of a list with mutation helpers.
type ListInstance struct {
	*Instance[[]models.Item]
	list *ListStore
}

// Mount mounts a list view.
func (l *ListStore) Mount(ctx context.Context) *ListInstance {
	return &ListInstance{Instance: l.Store.Mount(ctx), list: l}
}

// AddItem inserts item at the front, or replaces the item with the same _id.
// id is copied to _id when _id is missing.
func (l *ListStore) AddItem(ctx context.Context, item models.Item) {
	item = item.Normalized()
	id := item.ID()
	l.mutate(ctx, func(items []models.Item) []models.Item {
		if id != "" {
			if i := indexOf(items, id); i >= 0 {
				items[i] = item
				return items
			}
		}
		return append([]models.Item{item}, items...)
	})
}

// UpdateItem replaces the item with the same _id. It reports whether one was found.
func (l *ListStore) UpdateItem(ctx context.Context, item models.Item) bool {
	item = item.Normalized()
	id := item.ID()
	if id == "" {
		return false
	}
	found := false
	l.mutate(ctx, func(items []models.Item) []models.Item {
		if i := indexOf(items, id); i >= 0 {
			items[i] = item
			found = true
		}
		return items
	})
	return found
}

// RemoveItem deletes the item with the given _id. It reports whether one was found.
func (l *ListStore) RemoveItem(ctx context.Context, id string) bool {
	found := false
	l.mutate(ctx, func(items []models.Item) []models.Item {
		i := indexOf(items, id)
		if i < 0 {
			return items
		}
		found = true
		return slices.Delete(items, i, i+1)
	})
	return found
}

func (l *ListStore) mutate(ctx context.Context, fn func([]models.Item) []models.Item) {
	s := l.Store
	s.mu.Lock()
	next := fn(slices.Clone(s.data))
	if next == nil {
		next = []models.Item{}
	}
	s.data = next
	s.hasData = true
	s.stamp = utils.Millis(s.engine.Now())
	notes := s.updateAll(func(st *State[[]models.Item]) {
		st.Data = next
		st.HasData = true
		st.Err = nil
	})
	s.mu.Unlock()
	deliver(notes)

	s.persist(context.WithoutCancel(ctx))
}

// AddItem adds item to the list shared by every view.
func (li *ListInstance) AddItem(ctx context.Context, item models.Item) {
	li.list.AddItem(ctx, item)
}

// UpdateItem replaces the item with the same _id.
func (li *ListInstance) UpdateItem(ctx context.Context, item models.Item) bool {
	return li.list.UpdateItem(ctx, item)
}

// RemoveItem deletes the item with the given _id.
func (li *ListInstance) RemoveItem(ctx context.Context, id string) bool {
	return li.list.RemoveItem(ctx, id)
}

func indexOf(items []models.Item, id string) int {
	return slices.IndexFunc(items, func(it models.Item) bool {
		return it.ID() == id
	})
}
