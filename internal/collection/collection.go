// Package collection keeps ordered, id-deduplicated views of server
// entities. The same entity commonly arrives twice, once from a query and
// once over the realtime connection, and must render exactly once.
package collection

// Entity is anything with a stable identity key.
type Entity interface {
	Key() string
}

// Collection is an ordered set of entities deduplicated by Key. It is not
// safe for concurrent use; owners serialize access.
type Collection[T Entity] struct {
	items []T
	index map[string]int
}

func New[T Entity]() *Collection[T] {
	return &Collection[T]{index: make(map[string]int)}
}

// ReplaceAll discards the current contents and installs items, deduplicating
// within the batch. The first occurrence of a key wins.
func (c *Collection[T]) ReplaceAll(items []T) {
	c.items = c.items[:0]
	clear(c.index)
	for _, item := range items {
		c.Append(item)
	}
}

// AppendPage appends items that are not already present, preserving their
// relative order. Used when loading subsequent pages.
func (c *Collection[T]) AppendPage(items []T) {
	for _, item := range items {
		c.Append(item)
	}
}

// Append adds item at the end unless its key is already present. The
// first-seen copy wins; a duplicate insert is dropped.
func (c *Collection[T]) Append(item T) {
	if _, ok := c.index[item.Key()]; ok {
		return
	}
	c.index[item.Key()] = len(c.items)
	c.items = append(c.items, item)
}

// Prepend adds item at the front unless its key is already present.
func (c *Collection[T]) Prepend(item T) {
	if _, ok := c.index[item.Key()]; ok {
		return
	}
	c.items = append([]T{item}, c.items...)
	for k, i := range c.index {
		c.index[k] = i + 1
	}
	c.index[item.Key()] = 0
}

// Update replaces the stored copy of item in place. Unlike Append, an update
// always overwrites. An update for an absent key inserts at the front.
func (c *Collection[T]) Update(item T) {
	if i, ok := c.index[item.Key()]; ok {
		c.items[i] = item
		return
	}
	c.Prepend(item)
}

// Remove deletes the entity with the given key, if present.
func (c *Collection[T]) Remove(key string) {
	i, ok := c.index[key]
	if !ok {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, key)
	for k, j := range c.index {
		if j > i {
			c.index[k] = j - 1
		}
	}
}

// Mutate applies fn to the stored entity with the given key, if present.
// The bool reports whether the key existed.
func (c *Collection[T]) Mutate(key string, fn func(*T)) bool {
	i, ok := c.index[key]
	if !ok {
		return false
	}
	fn(&c.items[i])
	return true
}

// Get returns the stored entity for key.
func (c *Collection[T]) Get(key string) (T, bool) {
	var zero T
	i, ok := c.index[key]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

// Items returns a copy of the current contents in order.
func (c *Collection[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection[T]) Len() int { return len(c.items) }

// HydrateDescending installs items that arrive in ascending creation order
// so that the collection presents them newest first.
func (c *Collection[T]) HydrateDescending(ascending []T) {
	reversed := make([]T, 0, len(ascending))
	for i := len(ascending) - 1; i >= 0; i-- {
		reversed = append(reversed, ascending[i])
	}
	c.ReplaceAll(reversed)
}
