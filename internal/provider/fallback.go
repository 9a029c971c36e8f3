package provider

import (
	"context"
	"fmt"
	"log"
)

// Chain tries an ordered list of clients for one capability and
// returns the first success. Order is declaration order; retries are
// reproducible.
type Chain struct {
	capability Capability
	clients    []Client
}

func NewChain(capability Capability, clients ...Client) *Chain {
	return &Chain{capability: capability, clients: clients}
}

func (c *Chain) Capability() Capability {
	return c.capability
}

// Names lists the chain's clients in invocation order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.clients))
	for _, cl := range c.clients {
		names = append(names, cl.Name())
	}
	return names
}

// Prefer returns a chain with the named client moved to the front,
// keeping the rest in declaration order as fallbacks. Unknown names
// leave the chain unchanged.
func (c *Chain) Prefer(name string) *Chain {
	idx := -1
	for i, cl := range c.clients {
		if cl.Name() == name {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return c
	}
	reordered := make([]Client, 0, len(c.clients))
	reordered = append(reordered, c.clients[idx])
	for i, cl := range c.clients {
		if i != idx {
			reordered = append(reordered, cl)
		}
	}
	return &Chain{capability: c.capability, clients: reordered}
}

// Resolve invokes clients in order. Failures are logged and escalate
// to the next client; when every client fails the aggregate comes back
// as ReasonAllExhausted.
func (c *Chain) Resolve(ctx context.Context, req Request) Result {
	if len(c.clients) == 0 {
		return Failure(ReasonAllExhausted, fmt.Errorf("no clients registered for %s", c.capability))
	}
	failures := make([]string, 0, len(c.clients))
	for _, client := range c.clients {
		res := client.Invoke(ctx, req)
		if res.OK() {
			return res
		}
		log.Printf("provider %s failed for %s: %s (%v)", client.Name(), c.capability, res.Reason, res.Err)
		failures = append(failures, fmt.Sprintf("%s: %s", client.Name(), res.Reason))
	}
	return Failure(ReasonAllExhausted, describeFailures(failures))
}

// Registry maps capabilities to their fallback chains.
type Registry struct {
	chains map[Capability]*Chain
}

func NewRegistry(chains ...*Chain) *Registry {
	r := &Registry{chains: make(map[Capability]*Chain, len(chains))}
	for _, c := range chains {
		r.chains[c.capability] = c
	}
	return r
}

func (r *Registry) Chain(capability Capability) (*Chain, bool) {
	c, ok := r.chains[capability]
	return c, ok
}

// Resolve dispatches to the capability's chain. A capability with no
// chain behaves like an exhausted one.
func (r *Registry) Resolve(ctx context.Context, req Request) Result {
	chain, ok := r.chains[req.Capability]
	if !ok {
		return Failure(ReasonAllExhausted, fmt.Errorf("no chain registered for %s", req.Capability))
	}
	return chain.Resolve(ctx, req)
}
