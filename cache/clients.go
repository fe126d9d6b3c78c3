/*
Package cache keeps recently loaded clients in memory.

PURPOSE:
  Dashboard and receivables endpoints list every client on each request.
  Clients holds the last listing for a short TTL and keeps single clients by
  ID, collapsing concurrent misses into one store read with singleflight.

FRESHNESS:
  Entries expire after the TTL. Any write to a client (payment applied or
  reverted, contract edited) must call Invalidate for that client, which
  also drops the cached listing. A TTL of zero disables caching.

USAGE:
  c := cache.NewClients(store, time.Minute)
  clients, err := c.List(ctx)
  ...
  c.Invalidate(clientID)
*/
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
	"golang.org/x/sync/singleflight"
)

// Loader is the read side of billing.Store used by the cache.
type Loader interface {
	GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error)
	ListClients(ctx context.Context) ([]billing.Client, error)
}

type entry struct {
	client  *billing.Client
	expires time.Time
}

// Clients is a read-through cache of billing clients.
type Clients struct {
	loader Loader
	ttl    time.Duration
	clock  billing.Clock

	mu          sync.Mutex
	byID        map[billing.ClientID]entry
	list        []billing.Client
	listExpires time.Time
	generation  uint64

	group singleflight.Group
}

// Option configures a Clients cache.
type Option func(*Clients)

// WithClock replaces time.Now for expiry checks.
func WithClock(c billing.Clock) Option { return func(cc *Clients) { cc.clock = c } }

func NewClients(loader Loader, ttl time.Duration, opts ...Option) *Clients {
	c := &Clients{
		loader: loader,
		ttl:    ttl,
		clock:  billing.SystemClock,
		byID:   make(map[billing.ClientID]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a client, or nil if it does not exist. Misses are not cached.
func (c *Clients) Get(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	if c.ttl <= 0 {
		return c.loader.GetClient(ctx, id)
	}

	c.mu.Lock()
	if e, ok := c.byID[id]; ok && c.clock().Before(e.expires) {
		c.mu.Unlock()
		return cloneClient(e.client), nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err, _ := c.group.Do("client:"+string(id), func() (any, error) {
		return c.loader.GetClient(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	client, _ := v.(*billing.Client)
	if client == nil {
		return nil, nil
	}

	c.mu.Lock()
	if gen == c.generation {
		c.byID[id] = entry{client: cloneClient(client), expires: c.clock().Add(c.ttl)}
	}
	c.mu.Unlock()
	return cloneClient(client), nil
}

// List returns all clients.
func (c *Clients) List(ctx context.Context) ([]billing.Client, error) {
	if c.ttl <= 0 {
		return c.loader.ListClients(ctx)
	}

	c.mu.Lock()
	if c.list != nil && c.clock().Before(c.listExpires) {
		out := cloneClients(c.list)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err, _ := c.group.Do("list", func() (any, error) {
		return c.loader.ListClients(ctx)
	})
	if err != nil {
		return nil, err
	}
	clients, _ := v.([]billing.Client)
	if clients == nil {
		clients = []billing.Client{}
	}

	c.mu.Lock()
	if gen == c.generation {
		c.list = cloneClients(clients)
		c.listExpires = c.clock().Add(c.ttl)
		expires := c.clock().Add(c.ttl)
		for i := range clients {
			cl := clients[i]
			c.byID[cl.ID] = entry{client: cloneClient(&cl), expires: expires}
		}
	}
	c.mu.Unlock()
	return cloneClients(clients), nil
}

// ListWithFeeContract returns the clients that have a fee contract.
func (c *Clients) ListWithFeeContract(ctx context.Context) ([]billing.Client, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Client, 0, len(all))
	for _, cl := range all {
		if cl.HasFeeContract() {
			out = append(out, cl)
		}
	}
	return out, nil
}

// Invalidate drops one client and the cached listing.
func (c *Clients) Invalidate(id billing.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
	c.list = nil
	c.generation++
	c.group.Forget("client:" + string(id))
	c.group.Forget("list")
}

// InvalidateAll empties the cache.
func (c *Clients) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[billing.ClientID]entry)
	c.list = nil
	c.generation++
	c.group.Forget("list")
}

// Len reports how many clients are cached by ID.
func (c *Clients) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// Callers get their own copies so they cannot mutate cached payments.
func cloneClient(cl *billing.Client) *billing.Client {
	if cl == nil {
		return nil
	}
	out := *cl
	if cl.Contract != nil {
		contract := *cl.Contract
		out.Contract = &contract
	}
	out.Payments = append([]billing.PaymentRecord(nil), cl.Payments...)
	return &out
}

func cloneClients(in []billing.Client) []billing.Client {
	out := make([]billing.Client, len(in))
	for i := range in {
		out[i] = *cloneClient(&in[i])
	}
	return out
}
