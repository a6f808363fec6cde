package mcpserver

import (
	"container/list"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	defaultBypassCacheSize = 1000
	defaultBypassCacheTTL  = 5 * time.Minute
)

// BypassChecker decides whether a client IP skips authentication.
// Lookups are memoised in a small LRU cache that is cleared whenever the ranges change.
type BypassChecker struct {
	mu      sync.RWMutex
	ranges  []string
	nets    []*net.IPNet
	verbose bool

	cache *bypassCache
}

type bypassResult struct {
	matched string
	at      time.Time
}

type bypassCacheItem struct {
	ip     string
	result bypassResult
}

type bypassCache struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List
	enabled bool
	now     func() time.Time
}

func newBypassCache(size int, ttl time.Duration) *bypassCache {
	return &bypassCache{
		size:    size,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		enabled: true,
		now:     time.Now,
	}
}

func (c *bypassCache) get(ip string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return "", false
	}

	elem, ok := c.items[ip]
	if !ok {
		return "", false
	}
	item := elem.Value.(*bypassCacheItem)
	if c.now().Sub(item.result.at) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, ip)
		return "", false
	}
	c.order.MoveToFront(elem)
	return item.result.matched, true
}

func (c *bypassCache) put(ip, matched string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	result := bypassResult{matched: matched, at: c.now()}
	if elem, ok := c.items[ip]; ok {
		elem.Value.(*bypassCacheItem).result = result
		c.order.MoveToFront(elem)
		return
	}

	c.items[ip] = c.order.PushFront(&bypassCacheItem{ip: ip, result: result})
	if c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*bypassCacheItem).ip)
	}
}

func (c *bypassCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *bypassCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// NewBypassChecker parses the bypass ranges.
func NewBypassChecker(ranges []string, verbose bool) (*BypassChecker, error) {
	c := &BypassChecker{
		verbose: verbose,
		cache:   newBypassCache(defaultBypassCacheSize, defaultBypassCacheTTL),
	}
	for _, r := range ranges {
		if err := c.AddRange(r); err != nil {
			return nil, fmt.Errorf("failed to add bypass IP range '%s': %w", r, err)
		}
	}
	return c, nil
}

// ShouldBypass reports whether ipStr is inside a bypass range.
func (c *BypassChecker) ShouldBypass(ipStr string) bool {
	_, ok := c.Match(ipStr)
	return ok
}

// Match returns the bypass range that contains ipStr.
func (c *BypassChecker) Match(ipStr string) (string, bool) {
	if ipStr == "" {
		return "", false
	}
	if matched, ok := c.cache.get(ipStr); ok {
		if c.verbose {
			log.Printf("[BYPASS] CACHE HIT: IP %s - matched=%q", ipStr, matched)
		}
		return matched, matched != ""
	}

	matched := c.lookup(ipStr)
	c.cache.put(ipStr, matched)
	if c.verbose {
		if matched != "" {
			log.Printf("[BYPASS] IP %s matched bypass range %s", ipStr, matched)
		} else {
			log.Printf("[BYPASS] IP %s did not match any bypass range", ipStr)
		}
	}
	return matched, matched != ""
}

func (c *BypassChecker) lookup(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, network := range c.nets {
		if network.Contains(ip) {
			return c.ranges[i]
		}
	}
	return ""
}

// AddRange adds a CIDR block or single address. Adding an existing range is a no-op.
func (c *BypassChecker) AddRange(cidr string) error {
	network, err := ParseCIDROrIP(cidr)
	if err != nil {
		return err
	}
	canonical := network.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.ranges {
		if existing == canonical {
			return nil
		}
	}
	c.ranges = append(c.ranges, canonical)
	c.nets = append(c.nets, network)
	c.cache.clear()

	if c.verbose {
		log.Printf("[BYPASS] Added bypass range: %s", canonical)
	}
	return nil
}

// RemoveRange removes a range previously added.
func (c *BypassChecker) RemoveRange(cidr string) error {
	network, err := ParseCIDROrIP(cidr)
	if err != nil {
		return err
	}
	canonical := network.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.ranges {
		if existing == canonical {
			c.ranges = append(c.ranges[:i], c.ranges[i+1:]...)
			c.nets = append(c.nets[:i], c.nets[i+1:]...)
			c.cache.clear()
			return nil
		}
	}
	return fmt.Errorf("bypass range '%s' not found", canonical)
}

// Ranges returns the active ranges in canonical CIDR form.
func (c *BypassChecker) Ranges() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.ranges...)
}

// SetCacheEnabled toggles lookup caching. Disabling drops cached results.
func (c *BypassChecker) SetCacheEnabled(enabled bool) {
	c.cache.mu.Lock()
	c.cache.enabled = enabled
	c.cache.mu.Unlock()
	if !enabled {
		c.cache.clear()
	}
}
