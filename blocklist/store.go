package blocklist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"
)

const (
	defaultFreshnessWindow = 24 * time.Hour
	defaultFetchTimeout    = 30 * time.Second
	defaultPersistQueue    = 64
	defaultUserAgent       = "listforge/1.0"
)

// Options configures a Store. Zero values take the defaults above.
type Options struct {
	FreshnessWindow time.Duration
	FetchTimeout    time.Duration
	UserAgent       string
	// Persister, when set, receives every cache write. Saves run on a
	// background goroutine so persistence can never block the read path.
	Persister Persister
	// PersistQueue bounds the fire-and-forget save queue. When the queue is
	// full the save is dropped with a warning; the in-memory cache remains
	// authoritative either way.
	PersistQueue int
}

// nodeCache holds one node's two cache maps plus the configuration
// fingerprint last observed for it. Owned exclusively by the Store.
type nodeCache struct {
	domains     map[string]*DomainSet
	regexes     map[string]*RegexList
	fingerprint string
}

func newNodeCache() *nodeCache {
	return &nodeCache{
		domains: make(map[string]*DomainSet),
		regexes: make(map[string]*RegexList),
	}
}

type persistJob struct {
	nodeID string
	rec    *CacheRecord
}

// Store resolves (nodeID, url) pairs to fresh-enough DomainSets/RegexLists,
// fetching over the network only on cache miss or staleness. It owns all
// per-node cache state; callers borrow returned entries and must not mutate
// them.
type Store struct {
	opts   Options
	client *http.Client

	mu    sync.RWMutex
	nodes map[string]*nodeCache

	persistCh chan persistJob
	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// NewStore creates a Store and, when a Persister is configured, starts the
// background save worker.
func NewStore(opts Options) *Store {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = defaultFreshnessWindow
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PersistQueue <= 0 {
		opts.PersistQueue = defaultPersistQueue
	}
	initMetrics()
	s := &Store{
		opts:   opts,
		client: &http.Client{Timeout: opts.FetchTimeout},
		nodes:  make(map[string]*nodeCache),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	if opts.Persister != nil {
		s.persistCh = make(chan persistJob, opts.PersistQueue)
		go s.persistLoop()
	}
	return s
}

// Close stops the persistence worker after draining queued saves. Safe to
// call multiple times.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.persistCh != nil {
			close(s.persistCh)
			<-s.done
		} else {
			close(s.done)
		}
	})
}

func (s *Store) persistLoop() {
	defer close(s.done)
	for job := range s.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
		if err := s.opts.Persister.Save(ctx, job.nodeID, job.rec); err != nil {
			log.Warnf("node %s: persisting %s failed: %v", job.nodeID, job.rec.SourceURL, err)
		}
		cancel()
	}
}

func (s *Store) enqueuePersist(nodeID string, rec *CacheRecord) {
	if s.persistCh == nil {
		return
	}
	select {
	case s.persistCh <- persistJob{nodeID: nodeID, rec: rec}:
	default:
		log.Warnf("node %s: persistence queue full, dropping save for %s", nodeID, rec.SourceURL)
	}
}

func (s *Store) node(nodeID string) *nodeCache {
	if nc, ok := s.nodes[nodeID]; ok {
		return nc
	}
	nc := newNodeCache()
	s.nodes[nodeID] = nc
	return nc
}

func (s *Store) fresh(fetchedAt time.Time) bool {
	return s.now().Sub(fetchedAt) < s.opts.FreshnessWindow
}

// fetch issues the bounded GET for a list body.
func (s *Store) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Domains resolves (nodeID, url) to a DomainSet. A cached entry inside the
// freshness window is returned without I/O. On fetch failure the previous
// entry is retained (annotated with the error); with no previous entry an
// empty errored entry is cached so the failing URL is not hammered within
// the window. Never returns nil.
func (s *Store) Domains(ctx context.Context, nodeID, url string) *DomainSet {
	hash := ContentHash(url)

	s.mu.RLock()
	var prev *DomainSet
	if nc, ok := s.nodes[nodeID]; ok {
		prev = nc.domains[hash]
	}
	s.mu.RUnlock()

	if prev != nil && s.fresh(prev.FetchedAt) {
		incFetch("hit")
		return prev
	}

	body, err := s.fetch(ctx, url)
	if err != nil {
		return s.domainsFetchFailed(nodeID, url, hash, prev, err)
	}

	domains, lines, comments := parseDomainList(body)
	set := &DomainSet{
		SourceURL:    url,
		ContentHash:  hash,
		Domains:      domains,
		FetchedAt:    s.now(),
		LineCount:    lines,
		CommentCount: comments,
	}

	s.mu.Lock()
	s.node(nodeID).domains[hash] = set
	s.mu.Unlock()

	incFetch("success")
	setEntries(nodeID, KindDomains, s.entryCount(nodeID, KindDomains))
	s.enqueuePersist(nodeID, domainRecord(set))
	log.Debugf("node %s: fetched %s (%d domains, %d lines)", nodeID, url, len(domains), lines)
	return set
}

func (s *Store) domainsFetchFailed(nodeID, url, hash string, prev *DomainSet, err error) *DomainSet {
	if prev != nil {
		// Stale-but-usable: keep the old data and FetchedAt so the next read
		// retries, but surface the failure to callers.
		stale := *prev
		stale.ErrorMessage = err.Error()
		s.mu.Lock()
		s.node(nodeID).domains[hash] = &stale
		s.mu.Unlock()
		incFetch("stale")
		log.Warnf("node %s: refresh of %s failed, serving %d stale domains: %v", nodeID, url, len(prev.Domains), err)
		return &stale
	}
	empty := &DomainSet{
		SourceURL:    url,
		ContentHash:  hash,
		Domains:      make(map[string]struct{}),
		FetchedAt:    s.now(),
		ErrorMessage: err.Error(),
	}
	s.mu.Lock()
	s.node(nodeID).domains[hash] = empty
	s.mu.Unlock()
	incFetch("error")
	s.enqueuePersist(nodeID, domainRecord(empty))
	log.Warnf("node %s: fetch of %s failed with no cached copy: %v", nodeID, url, err)
	return empty
}

// Patterns resolves (nodeID, url) to a RegexList with the same caching,
// staleness and failure semantics as Domains.
func (s *Store) Patterns(ctx context.Context, nodeID, url string) *RegexList {
	hash := ContentHash(url)

	s.mu.RLock()
	var prev *RegexList
	if nc, ok := s.nodes[nodeID]; ok {
		prev = nc.regexes[hash]
	}
	s.mu.RUnlock()

	if prev != nil && s.fresh(prev.FetchedAt) {
		incFetch("hit")
		return prev
	}

	body, err := s.fetch(ctx, url)
	if err != nil {
		return s.patternsFetchFailed(nodeID, url, hash, prev, err)
	}

	patterns, raw, lines, comments := parseRegexList(body)
	list := &RegexList{
		SourceURL:    url,
		ContentHash:  hash,
		Patterns:     patterns,
		RawPatterns:  raw,
		FetchedAt:    s.now(),
		LineCount:    lines,
		CommentCount: comments,
	}

	s.mu.Lock()
	s.node(nodeID).regexes[hash] = list
	s.mu.Unlock()

	incFetch("success")
	setEntries(nodeID, KindRegex, s.entryCount(nodeID, KindRegex))
	s.enqueuePersist(nodeID, regexRecord(list))
	log.Debugf("node %s: fetched %s (%d patterns, %d lines)", nodeID, url, len(patterns), lines)
	return list
}

func (s *Store) patternsFetchFailed(nodeID, url, hash string, prev *RegexList, err error) *RegexList {
	if prev != nil {
		stale := *prev
		stale.ErrorMessage = err.Error()
		s.mu.Lock()
		s.node(nodeID).regexes[hash] = &stale
		s.mu.Unlock()
		incFetch("stale")
		log.Warnf("node %s: refresh of %s failed, serving %d stale patterns: %v", nodeID, url, len(prev.Patterns), err)
		return &stale
	}
	empty := &RegexList{
		SourceURL:    url,
		ContentHash:  hash,
		FetchedAt:    s.now(),
		ErrorMessage: err.Error(),
	}
	s.mu.Lock()
	s.node(nodeID).regexes[hash] = empty
	s.mu.Unlock()
	incFetch("error")
	s.enqueuePersist(nodeID, regexRecord(empty))
	log.Warnf("node %s: fetch of %s failed with no cached copy: %v", nodeID, url, err)
	return empty
}

// PrefetchNode resolves every list URL the configuration references,
// fanning out one goroutine per URL. Used by the scheduler's forced refresh
// and at startup to warm a node's cache.
func (s *Store) PrefetchNode(ctx context.Context, nodeID string, cfg *NodeConfig) {
	if cfg == nil {
		return
	}
	var wg sync.WaitGroup
	seenDomains := make(map[string]struct{})
	seenRegex := make(map[string]struct{})
	for _, g := range cfg.Groups {
		for _, u := range append(append([]string{}, g.BlockListURLs...), g.AllowListURLs...) {
			if _, ok := seenDomains[u]; ok {
				continue
			}
			seenDomains[u] = struct{}{}
			wg.Add(1)
			go func(url string) {
				defer wg.Done()
				s.Domains(ctx, nodeID, url)
			}(u)
		}
		for _, u := range append(append([]string{}, g.BlockListRegexURLs...), g.AllowListRegexURLs...) {
			if _, ok := seenRegex[u]; ok {
				continue
			}
			seenRegex[u] = struct{}{}
			wg.Add(1)
			go func(url string) {
				defer wg.Done()
				s.Patterns(ctx, nodeID, url)
			}(u)
		}
	}
	wg.Wait()
}

// ClearNode drops both cache maps for one node. The fingerprint survives so
// an unchanged configuration does not re-trigger invalidation afterwards.
func (s *Store) ClearNode(nodeID string) {
	s.mu.Lock()
	if nc, ok := s.nodes[nodeID]; ok {
		nc.domains = make(map[string]*DomainSet)
		nc.regexes = make(map[string]*RegexList)
	}
	s.mu.Unlock()
	setEntries(nodeID, KindDomains, 0)
	setEntries(nodeID, KindRegex, 0)
	log.Infof("node %s: cache cleared", nodeID)
}

// ClearAll drops every node's cache maps.
func (s *Store) ClearAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.nodes))
	for id, nc := range s.nodes {
		nc.domains = make(map[string]*DomainSet)
		nc.regexes = make(map[string]*RegexList)
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		setEntries(id, KindDomains, 0)
		setEntries(id, KindRegex, 0)
	}
	log.Infof("cache cleared for all %d nodes", len(ids))
}

// RehydrateNode loads every persisted record for the node into the in-memory
// cache. Called at process start before any network fetch; records never
// clobber an entry that already made it into memory. Returns the number of
// records restored.
func (s *Store) RehydrateNode(ctx context.Context, nodeID string) (int, error) {
	if s.opts.Persister == nil {
		return 0, nil
	}
	hashes, err := s.opts.Persister.List(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("listing persisted records for node %s: %w", nodeID, err)
	}
	restored := 0
	for _, hash := range hashes {
		rec, err := s.opts.Persister.Load(ctx, nodeID, hash)
		if err != nil {
			log.Warnf("node %s: loading persisted record %s failed: %v", nodeID, hash, err)
			continue
		}
		if s.restoreRecord(nodeID, rec) {
			restored++
		}
	}
	if restored > 0 {
		log.Infof("node %s: rehydrated %d cached lists from disk", nodeID, restored)
	}
	return restored, nil
}

func (s *Store) restoreRecord(nodeID string, rec *CacheRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	nc := s.node(nodeID)
	switch rec.Kind {
	case KindRegex:
		if _, exists := nc.regexes[rec.ContentHash]; exists {
			return false
		}
		list := &RegexList{
			SourceURL:    rec.SourceURL,
			ContentHash:  rec.ContentHash,
			FetchedAt:    rec.FetchedAt,
			LineCount:    rec.LineCount,
			CommentCount: rec.CommentCount,
			ErrorMessage: rec.ErrorMessage,
		}
		for _, raw := range rec.Patterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				continue
			}
			list.Patterns = append(list.Patterns, re)
			list.RawPatterns = append(list.RawPatterns, raw)
		}
		nc.regexes[rec.ContentHash] = list
	default:
		if _, exists := nc.domains[rec.ContentHash]; exists {
			return false
		}
		set := &DomainSet{
			SourceURL:    rec.SourceURL,
			ContentHash:  rec.ContentHash,
			Domains:      make(map[string]struct{}, len(rec.Domains)),
			FetchedAt:    rec.FetchedAt,
			LineCount:    rec.LineCount,
			CommentCount: rec.CommentCount,
			ErrorMessage: rec.ErrorMessage,
		}
		for _, d := range rec.Domains {
			set.Domains[NormalizeDomain(d)] = struct{}{}
		}
		nc.domains[rec.ContentHash] = set
	}
	return true
}

func (s *Store) entryCount(nodeID string, kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nc, ok := s.nodes[nodeID]
	if !ok {
		return 0
	}
	total := 0
	if kind == KindRegex {
		for _, l := range nc.regexes {
			total += len(l.Patterns)
		}
	} else {
		for _, d := range nc.domains {
			total += len(d.Domains)
		}
	}
	return total
}

func domainRecord(set *DomainSet) *CacheRecord {
	rec := &CacheRecord{
		SourceURL:    set.SourceURL,
		ContentHash:  set.ContentHash,
		Kind:         KindDomains,
		FetchedAt:    set.FetchedAt,
		LineCount:    set.LineCount,
		CommentCount: set.CommentCount,
		ErrorMessage: set.ErrorMessage,
	}
	rec.Domains = make([]string, 0, len(set.Domains))
	for d := range set.Domains {
		rec.Domains = append(rec.Domains, d)
	}
	return rec
}

func regexRecord(list *RegexList) *CacheRecord {
	return &CacheRecord{
		SourceURL:    list.SourceURL,
		ContentHash:  list.ContentHash,
		Kind:         KindRegex,
		FetchedAt:    list.FetchedAt,
		LineCount:    list.LineCount,
		CommentCount: list.CommentCount,
		Patterns:     append([]string{}, list.RawPatterns...),
		ErrorMessage: list.ErrorMessage,
	}
}
