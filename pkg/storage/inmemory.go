package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNames     = []byte("names")
	bucketDocuments = []byte("documents")
	bucketContracts = []byte("contracts")
	bucketBags      = []byte("bags")

	subBucketAvailable  = []byte("available")
	subBucketProcessing = []byte("processing")
	subBucketClaimedAt  = []byte("claimedAt")
)

// InMemory is a bbolt-backed StorageMechanism opened against a scratch
// temp-file database. It gives the "no real backend configured" case
// real ACID transaction semantics instead of a bare map, so claim races
// on message bags are serialized by bbolt's single-writer transaction
// the same way a production backend would serialize them.
type InMemory struct {
	db   *bolt.DB
	path string
}

// NewInMemory opens a fresh scratch bbolt database. The file is created
// under os.TempDir and removed when Close is called.
func NewInMemory() (*InMemory, error) {
	f, err := os.CreateTemp("", "nebula-inmemory-*.db")
	if err != nil {
		return nil, fmt.Errorf("storage/inmemory: create scratch file: %w", err)
	}
	path := f.Name()
	f.Close()

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("storage/inmemory: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNames, bucketDocuments, bucketContracts, bucketBags} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	return &InMemory{db: db, path: path}, nil
}

// Close closes the underlying database and removes its scratch file.
func (s *InMemory) Close() error {
	err := s.db.Close()
	os.Remove(s.path)
	return err
}

func citationKey(c types.Citation) []byte {
	return []byte(c.Tag.Key() + "/" + c.Version.Key())
}

func (s *InMemory) NameExists(ctx context.Context, name types.Name) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketNames).Get([]byte(name.Key())) != nil
		return nil
	})
	return exists, wrapBoltErr(err, "storage.inmemory", "NameExists")
}

func (s *InMemory) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	var result *types.Citation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNames).Get([]byte(name.Key()))
		if data == nil {
			return nil
		}
		c, err := bali.DecodeCitation(data)
		if err != nil {
			return err
		}
		result = &c
		return nil
	})
	return result, wrapBoltErr(err, "storage.inmemory", "ReadName")
}

func (s *InMemory) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNames)
		if b.Get([]byte(name.Key())) != nil {
			return repoerr.New(repoerr.NameExists, "storage.inmemory", "WriteName", map[string]any{"name": name.String()})
		}
		return b.Put([]byte(name.Key()), bali.EncodeCitation(citation))
	})
	if err != nil {
		return types.Citation{}, err
	}
	return citation, nil
}

func (s *InMemory) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketDocuments).Get(citationKey(citation)) != nil
		return nil
	})
	return exists, wrapBoltErr(err, "storage.inmemory", "DocumentExists")
}

func (s *InMemory) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	var result *types.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get(citationKey(citation))
		if data == nil {
			return nil
		}
		doc, err := bali.DecodeDocument(data)
		if err != nil {
			return err
		}
		result = &doc
		return nil
	})
	return result, wrapBoltErr(err, "storage.inmemory", "ReadDocument")
}

func (s *InMemory) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	citation, err := notary.CiteDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "WriteDocument", nil, err)
	}
	data, err := bali.EncodeDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "WriteDocument", nil, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketContracts).Get(citationKey(citation)) != nil {
			return repoerr.New(repoerr.DocumentExists, "storage.inmemory", "WriteDocument", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
		}
		return tx.Bucket(bucketDocuments).Put(citationKey(citation), data)
	})
	if err != nil {
		return types.Citation{}, err
	}
	return citation, nil
}

func (s *InMemory) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	prior, err := s.ReadDocument(ctx, citation)
	if err != nil || prior == nil {
		return prior, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).Delete(citationKey(citation))
	})
	return prior, wrapBoltErr(err, "storage.inmemory", "DeleteDocument")
}

func (s *InMemory) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketContracts).Get(citationKey(citation)) != nil
		return nil
	})
	return exists, wrapBoltErr(err, "storage.inmemory", "ContractExists")
}

func (s *InMemory) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	var result *types.Contract
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContracts).Get(citationKey(citation))
		if data == nil {
			return nil
		}
		c, err := bali.DecodeContract(data)
		if err != nil {
			return err
		}
		result = &c
		return nil
	})
	return result, wrapBoltErr(err, "storage.inmemory", "ReadContract")
}

func (s *InMemory) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	citation, err := notary.CiteDocument(contract.Document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "WriteContract", nil, err)
	}
	data, err := bali.EncodeContract(contract)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "WriteContract", nil, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContracts)
		if cb.Get(citationKey(citation)) != nil {
			return repoerr.New(repoerr.ContractExists, "storage.inmemory", "WriteContract", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
		}
		if err := cb.Put(citationKey(citation), data); err != nil {
			return err
		}
		// Committing deletes any draft at the same (tag, version).
		return tx.Bucket(bucketDocuments).Delete(citationKey(citation))
	})
	if err != nil {
		return types.Citation{}, err
	}
	return citation, nil
}

func bagBucket(tx *bolt.Tx, bag types.Citation) (*bolt.Bucket, error) {
	tagBucket, err := tx.Bucket(bucketBags).CreateBucketIfNotExists([]byte(bag.Tag.Key()))
	if err != nil {
		return nil, err
	}
	return tagBucket.CreateBucketIfNotExists([]byte(bag.Version.Key()))
}

func (s *InMemory) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBags)
		if root == nil {
			return nil
		}
		tagB := root.Bucket([]byte(bag.Tag.Key()))
		if tagB == nil {
			return nil
		}
		versionB := tagB.Bucket([]byte(bag.Version.Key()))
		if versionB == nil {
			return nil
		}
		avail := versionB.Bucket(subBucketAvailable)
		if avail == nil {
			return nil
		}
		found = avail.Stats().KeyN > 0
		return nil
	})
	return found, wrapBoltErr(err, "storage.inmemory", "MessageAvailable")
}

func (s *InMemory) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBags)
		if root == nil {
			return nil
		}
		tagB := root.Bucket([]byte(bag.Tag.Key()))
		if tagB == nil {
			return nil
		}
		versionB := tagB.Bucket([]byte(bag.Version.Key()))
		if versionB == nil {
			return nil
		}
		avail := versionB.Bucket(subBucketAvailable)
		if avail == nil {
			return nil
		}
		count = avail.Stats().KeyN
		return nil
	})
	return count, wrapBoltErr(err, "storage.inmemory", "MessageCount")
}

func (s *InMemory) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	capacity, err := bagCapacity(ctx, s, "storage.inmemory", bag)
	if err != nil {
		return err
	}
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "AddMessage", nil, err)
	}
	data, err := bali.EncodeMessage(message)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "AddMessage", nil, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bagBucket(tx, bag)
		if err != nil {
			return err
		}
		avail, err := bucket.CreateBucketIfNotExists(subBucketAvailable)
		if err != nil {
			return err
		}
		proc, err := bucket.CreateBucketIfNotExists(subBucketProcessing)
		if err != nil {
			return err
		}
		if avail.Stats().KeyN+proc.Stats().KeyN >= capacity {
			return repoerr.New(repoerr.BagFull, "storage.inmemory", "AddMessage", map[string]any{"bag": bag.Key(), "capacity": capacity})
		}
		key := citationKey(msgCitation)
		if avail.Get(key) != nil {
			return repoerr.New(repoerr.MessageExists, "storage.inmemory", "AddMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
		}
		if proc.Get(key) != nil {
			return repoerr.New(repoerr.MessageExists, "storage.inmemory", "AddMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
		}
		return avail.Put(key, data)
	})
}

// RemoveMessage relies on bbolt's single-writer Update transaction to
// serialize the claim: every caller races to run its own Update, bbolt
// runs them one at a time, so "pick a random key, move it to processing"
// is atomic without a separate retry loop the way LocalFS's cross-process
// unlink race needs one.
func (s *InMemory) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	var result *types.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bagBucket(tx, bag)
		if err != nil {
			return err
		}
		avail, err := bucket.CreateBucketIfNotExists(subBucketAvailable)
		if err != nil {
			return err
		}
		var keys [][]byte
		if err := avail.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		key := keys[rand.Intn(len(keys))]
		data := append([]byte{}, avail.Get(key)...)
		if err := avail.Delete(key); err != nil {
			return err
		}
		proc, err := bucket.CreateBucketIfNotExists(subBucketProcessing)
		if err != nil {
			return err
		}
		if err := proc.Put(key, data); err != nil {
			return err
		}
		claimed, err := bucket.CreateBucketIfNotExists(subBucketClaimedAt)
		if err != nil {
			return err
		}
		if err := claimed.Put(key, encodeTime(time.Now())); err != nil {
			return err
		}
		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return err
		}
		result = &msg
		return nil
	})
	return result, wrapBoltErr(err, "storage.inmemory", "RemoveMessage")
}

func (s *InMemory) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "ReturnMessage", nil, err)
	}
	nextVersion, err := message.Document.Parameters.Version.NextVersion(0)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "ReturnMessage", nil, err)
	}
	bumped := message
	bumped.Document.Parameters = bumped.Document.Parameters.Clone()
	bumped.Document.Parameters.Version = nextVersion
	newCitation, err := notary.CiteDocument(bumped.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "ReturnMessage", nil, err)
	}
	data, err := bali.EncodeMessage(bumped)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.inmemory", "ReturnMessage", nil, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bagBucket(tx, bag)
		if err != nil {
			return err
		}
		proc, err := bucket.CreateBucketIfNotExists(subBucketProcessing)
		if err != nil {
			return err
		}
		key := citationKey(msgCitation)
		if proc.Get(key) == nil {
			return repoerr.New(repoerr.LeaseExpired, "storage.inmemory", "ReturnMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
		}
		if err := proc.Delete(key); err != nil {
			return err
		}
		if claimed, err := bucket.CreateBucketIfNotExists(subBucketClaimedAt); err == nil {
			claimed.Delete(key)
		}
		avail, err := bucket.CreateBucketIfNotExists(subBucketAvailable)
		if err != nil {
			return err
		}
		return avail.Put(citationKey(newCitation), data)
	})
}

func (s *InMemory) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	var result *types.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := bagBucket(tx, bag)
		if err != nil {
			return err
		}
		proc, err := bucket.CreateBucketIfNotExists(subBucketProcessing)
		if err != nil {
			return err
		}
		key := citationKey(citation)
		data := proc.Get(key)
		if data == nil {
			return repoerr.New(repoerr.LeaseExpired, "storage.inmemory", "DeleteMessage", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
		}
		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return err
		}
		if err := proc.Delete(key); err != nil {
			return err
		}
		if claimed, err := bucket.CreateBucketIfNotExists(subBucketClaimedAt); err == nil {
			claimed.Delete(key)
		}
		result = &msg
		return nil
	})
	return result, err
}

// ListProcessing implements ProcessingLister. bbolt has no per-key mtime,
// so claimed-at is tracked in a parallel "claimedAt" bucket keyed the
// same way, written at the moment RemoveMessage claims an entry.
func (s *InMemory) ListProcessing(ctx context.Context, bag types.Citation) ([]ProcessingEntry, error) {
	var entries []ProcessingEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBags)
		if root == nil {
			return nil
		}
		tagB := root.Bucket([]byte(bag.Tag.Key()))
		if tagB == nil {
			return nil
		}
		versionB := tagB.Bucket([]byte(bag.Version.Key()))
		if versionB == nil {
			return nil
		}
		proc := versionB.Bucket(subBucketProcessing)
		if proc == nil {
			return nil
		}
		claimed := versionB.Bucket(subBucketClaimedAt)
		return proc.ForEach(func(k, v []byte) error {
			msg, err := bali.DecodeMessage(v)
			if err != nil {
				return err
			}
			citation, err := notary.CiteDocument(msg.Document)
			if err != nil {
				return err
			}
			claimedAt := time.Now()
			if claimed != nil {
				if raw := claimed.Get(k); raw != nil {
					claimedAt = decodeTime(raw)
				}
			}
			entries = append(entries, ProcessingEntry{Citation: citation, Message: msg, ClaimedAt: claimedAt})
			return nil
		})
	})
	return entries, wrapBoltErr(err, "storage.inmemory", "ListProcessing")
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(buf []byte) time.Time {
	if len(buf) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(buf)))
}

func wrapBoltErr(err error, module, procedure string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*repoerr.Error); ok {
		return err
	}
	return repoerr.Wrap(repoerr.Unexpected, module, procedure, nil, err)
}
