package blocklist

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

// ErrNotFound is returned by Persister.Load when no record exists for the
// requested (nodeID, hash) pair.
var ErrNotFound = errors.New("blocklist: record not found")

// Kind distinguishes the two cached list shapes.
type Kind string

const (
	KindDomains Kind = "domains"
	KindRegex   Kind = "regex"
)

// CacheRecord is the persisted form of one cache entry. Patterns are stored
// as raw text and recompiled on load.
type CacheRecord struct {
	SourceURL    string    `json:"sourceUrl"`
	ContentHash  string    `json:"contentHash"`
	Kind         Kind      `json:"kind"`
	FetchedAt    time.Time `json:"fetchedAt"`
	LineCount    int       `json:"lineCount"`
	CommentCount int       `json:"commentCount"`
	Domains      []string  `json:"domains,omitempty"`
	Patterns     []string  `json:"patterns,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Persister mirrors cache entries to durable storage so a process restart
// does not require re-downloading every list. Save is best-effort: the store
// calls it off the read path and only logs failures.
type Persister interface {
	Save(ctx context.Context, nodeID string, rec *CacheRecord) error
	Load(ctx context.Context, nodeID, hash string) (*CacheRecord, error)
	List(ctx context.Context, nodeID string) ([]string, error)
}

// DatastorePersister stores gzip-compressed JSON records in a go-datastore,
// keyed /<nodeID>/<contentHash>. Any backend works; the daemon wires badger
// for local disk or dynamo for shared deployments.
type DatastorePersister struct {
	ds datastore.Datastore
}

// NewDatastorePersister wraps an existing datastore. The caller retains
// ownership and is responsible for closing it.
func NewDatastorePersister(ds datastore.Datastore) *DatastorePersister {
	return &DatastorePersister{ds: ds}
}

func recordKey(nodeID, hash string) datastore.Key {
	return datastore.NewKey("/" + nodeID + "/" + hash)
}

// Save implements Persister.
func (p *DatastorePersister) Save(ctx context.Context, nodeID string, rec *CacheRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ContentHash, err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return p.ds.Put(ctx, recordKey(nodeID, rec.ContentHash), buf.Bytes())
}

// Load implements Persister.
func (p *DatastorePersister) Load(ctx context.Context, nodeID, hash string) (*CacheRecord, error) {
	raw, err := p.ds.Get(ctx, recordKey(nodeID, hash))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompressing record %s: %w", hash, err)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	rec := &CacheRecord{}
	if err := json.Unmarshal(decoded, rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", hash, err)
	}
	return rec, nil
}

// List implements Persister. It returns the content hashes of every record
// persisted for the node.
func (p *DatastorePersister) List(ctx context.Context, nodeID string) ([]string, error) {
	res, err := p.ds.Query(ctx, dsq.Query{Prefix: "/" + nodeID, KeysOnly: true})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var hashes []string
	for entry := range res.Next() {
		if entry.Error != nil {
			return nil, entry.Error
		}
		hashes = append(hashes, datastore.NewKey(entry.Key).Name())
	}
	return hashes, nil
}
