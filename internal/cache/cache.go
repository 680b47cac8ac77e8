// Package cache implements the shared store used for cross-request and
// cross-instance coordination: the queue-initialized flag, the ordered job
// queue, the set of all known resources and one serialized job record per
// resource.
//
// The backing server is memcached. Consistency is last-write-wins with no
// atomic compare-and-swap; higher-level invariants are enforced by
// read-modify-write at the caller.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("cache: key not found")

// ErrUnreachable distinguishes a failure to reach the backing server from an
// ordinary miss. Initialization must fail loudly on this error instead of
// degrading to per-instance state.
var ErrUnreachable = errors.New("cache: server unreachable")

// Store is the key-value interface backing the shared store. Implementations
// provide last-write-wins semantics and no transactions.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

const (
	keyQueueInitialized = "queue_initialized"
	keyJobQueue         = "job_queue"
	keyAllResources     = "all_resources"
	jobKeyPrefix        = "job:"
)

// Memcached is a Store backed by a memcached server.
type Memcached struct {
	client *memcache.Client
}

// NewMemcached connects to the memcached server at addr (host:port or a
// unix socket path) and verifies the connection. An unreachable server is
// reported as ErrUnreachable.
func NewMemcached(addr string) (*Memcached, error) {
	client := memcache.New(addr)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return &Memcached{client: client}, nil
}

func (m *Memcached) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return item.Value, nil
}

func (m *Memcached) Set(key string, value []byte) error {
	if err := m.client.Set(&memcache.Item{Key: key, Value: value}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

func (m *Memcached) Delete(key string) error {
	err := m.client.Delete(key)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Cache provides typed access to the shared store records on top of a Store.
type Cache struct {
	store Store
}

// New wraps a Store with typed accessors.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// QueueInitialized reports whether the queue has been initialized from the
// durable backup since the cache was last cold.
func (c *Cache) QueueInitialized() (bool, error) {
	b, err := c.store.Get(keyQueueInitialized)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(b) == "true", nil
}

// SetQueueInitialized records whether the queue has been initialized.
func (c *Cache) SetQueueInitialized(initialized bool) error {
	v := "false"
	if initialized {
		v = "true"
	}
	return c.store.Set(keyQueueInitialized, []byte(v))
}

// JobQueue returns the ordered queue of active job IDs. A missing entry is
// an empty queue.
func (c *Cache) JobQueue() ([]string, error) {
	return c.getStringList(keyJobQueue)
}

// SetJobQueue replaces the ordered queue of active job IDs.
func (c *Cache) SetJobQueue(queue []string) error {
	return c.setStringList(keyJobQueue, queue)
}

// AllResources returns the IDs of all known resources.
func (c *Cache) AllResources() ([]string, error) {
	return c.getStringList(keyAllResources)
}

// SetAllResources replaces the set of all known resource IDs.
func (c *Cache) SetAllResources(ids []string) error {
	return c.setStringList(keyAllResources, ids)
}

// Job returns the serialized job record for a resource, or ErrNotFound.
func (c *Cache) Job(resourceID string) ([]byte, error) {
	return c.store.Get(jobKeyPrefix + resourceID)
}

// SetJob stores the serialized job record for a resource.
func (c *Cache) SetJob(resourceID string, data []byte) error {
	return c.store.Set(jobKeyPrefix+resourceID, data)
}

// RemoveJob deletes the job record for a resource.
func (c *Cache) RemoveJob(resourceID string) error {
	return c.store.Delete(jobKeyPrefix + resourceID)
}

func (c *Cache) getStringList(key string) ([]string, error) {
	b, err := c.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse cached list %q: %w", key, err)
	}
	return list, nil
}

func (c *Cache) setStringList(key string, list []string) error {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal cached list %q: %w", key, err)
	}
	return c.store.Set(key, b)
}
