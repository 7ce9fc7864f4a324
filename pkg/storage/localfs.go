package storage

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

const (
	modeImmutable = 0o400
	modeMutable   = 0o600
	modeDir       = 0o700
)

// LocalFS is the filesystem backend. It lays content out as:
//
//	<root>/names/<name>.bali
//	<root>/documents/<tag>/<version>.bali
//	<root>/contracts/<tag>/<version>.bali
//	<root>/messages/<tag>/<version>/available/<mtag>/<mversion>.bali
//	<root>/messages/<tag>/<version>/processing/<mtag>/<mversion>.bali
type LocalFS struct {
	root string
}

// NewLocalFS creates a LocalFS backend rooted at root, creating the
// directory layout if it does not already exist.
func NewLocalFS(root string) (*LocalFS, error) {
	for _, dir := range []string{"names", "documents", "contracts", "messages"} {
		if err := os.MkdirAll(filepath.Join(root, dir), modeDir); err != nil {
			return nil, fmt.Errorf("storage/localfs: create %s: %w", dir, err)
		}
	}
	return &LocalFS{root: root}, nil
}

func (s *LocalFS) namePath(name types.Name) string {
	return filepath.Join(s.root, "names", name.Key()+".bali")
}

func (s *LocalFS) documentPath(citation types.Citation) string {
	return filepath.Join(s.root, "documents", citation.Tag.Key(), citation.Version.Key()+".bali")
}

func (s *LocalFS) contractPath(citation types.Citation) string {
	return filepath.Join(s.root, "contracts", citation.Tag.Key(), citation.Version.Key()+".bali")
}

func (s *LocalFS) bagDir(bag types.Citation) string {
	return filepath.Join(s.root, "messages", bag.Tag.Key(), bag.Version.Key())
}

func (s *LocalFS) availableDir(bag types.Citation) string {
	return filepath.Join(s.bagDir(bag), "available")
}

func (s *LocalFS) processingDir(bag types.Citation) string {
	return filepath.Join(s.bagDir(bag), "processing")
}

func messageFile(dir string, citation types.Citation) string {
	return filepath.Join(dir, citation.Tag.Key(), citation.Version.Key()+".bali")
}

// writeExclusive writes data to path with O_CREATE|O_EXCL, the
// create-exclusive primitive Name/Contract write-once semantics need
// (a stat-then-write loses the race under concurrent writers).
func writeExclusive(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), modeDir); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return werr
	}
	return cerr
}

// writeAtomic writes data to path via a temp file + rename, so a
// cancellation mid-write leaves the target either absent or fully
// written, never partially written. Overwrite is allowed (used for
// drafts and message moves).
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), modeDir); err != nil {
		return err
	}
	tmp := path + fmt.Sprintf(".tmp-%d", rand.Int63())
	if err := os.WriteFile(tmp, data, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *LocalFS) NameExists(ctx context.Context, name types.Name) (bool, error) {
	_, err := os.Stat(s.namePath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "NameExists", map[string]any{"name": name.String()}, err)
	}
	return true, nil
}

func (s *LocalFS) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	data, err := os.ReadFile(s.namePath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadName", map[string]any{"name": name.String()}, err)
	}
	citation, err := bali.DecodeCitation(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadName", map[string]any{"name": name.String()}, err)
	}
	return &citation, nil
}

func (s *LocalFS) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	if err := writeExclusive(s.namePath(name), bali.EncodeCitation(citation), modeImmutable); err != nil {
		if os.IsExist(err) {
			return types.Citation{}, repoerr.New(repoerr.NameExists, "storage.localfs", "WriteName", map[string]any{"name": name.String()})
		}
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteName", map[string]any{"name": name.String()}, err)
	}
	return citation, nil
}

func (s *LocalFS) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	_, err := os.Stat(s.documentPath(citation))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "DocumentExists", map[string]any{"tag": citation.Tag.String()}, err)
	}
	return true, nil
}

func (s *LocalFS) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	data, err := os.ReadFile(s.documentPath(citation))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadDocument", nil, err)
	}
	doc, err := bali.DecodeDocument(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadDocument", nil, err)
	}
	return &doc, nil
}

func (s *LocalFS) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	citation, err := notary.CiteDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteDocument", nil, err)
	}
	exists, err := s.ContractExists(ctx, citation)
	if err != nil {
		return types.Citation{}, err
	}
	if exists {
		return types.Citation{}, repoerr.New(repoerr.DocumentExists, "storage.localfs", "WriteDocument", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	data, err := bali.EncodeDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteDocument", nil, err)
	}
	if err := writeAtomic(s.documentPath(citation), data, modeMutable); err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteDocument", nil, err)
	}
	return citation, nil
}

func (s *LocalFS) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	prior, err := s.ReadDocument(ctx, citation)
	if err != nil || prior == nil {
		return prior, err
	}
	if err := os.Remove(s.documentPath(citation)); err != nil && !os.IsNotExist(err) {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "DeleteDocument", nil, err)
	}
	return prior, nil
}

func (s *LocalFS) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	_, err := os.Stat(s.contractPath(citation))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ContractExists", nil, err)
	}
	return true, nil
}

func (s *LocalFS) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	data, err := os.ReadFile(s.contractPath(citation))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadContract", nil, err)
	}
	contract, err := bali.DecodeContract(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReadContract", nil, err)
	}
	return &contract, nil
}

func (s *LocalFS) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	citation, err := notary.CiteDocument(contract.Document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteContract", nil, err)
	}
	data, err := bali.EncodeContract(contract)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteContract", nil, err)
	}
	if err := writeExclusive(s.contractPath(citation), data, modeImmutable); err != nil {
		if os.IsExist(err) {
			return types.Citation{}, repoerr.New(repoerr.ContractExists, "storage.localfs", "WriteContract", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
		}
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "WriteContract", nil, err)
	}
	// Committing deletes any draft at the same (tag, version).
	if err := os.Remove(s.documentPath(citation)); err != nil && !os.IsNotExist(err) {
		log.Logger.Warn().Str("tag", citation.Tag.String()).Msg("storage/localfs: failed to remove draft after commit")
	}
	return citation, nil
}

func (s *LocalFS) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	count, err := s.MessageCount(ctx, bag)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *LocalFS) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	count := 0
	tagDirs, err := os.ReadDir(s.availableDir(bag))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "MessageCount", nil, err)
	}
	for _, tagDir := range tagDirs {
		versions, err := os.ReadDir(filepath.Join(s.availableDir(bag), tagDir.Name()))
		if err != nil {
			continue
		}
		count += len(versions)
	}
	return count, nil
}

func (s *LocalFS) messageExists(bag types.Citation, msgCitation types.Citation) bool {
	for _, dir := range []string{s.availableDir(bag), s.processingDir(bag)} {
		if _, err := os.Stat(messageFile(dir, msgCitation)); err == nil {
			return true
		}
	}
	return false
}

func (s *LocalFS) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	capacity, err := bagCapacity(ctx, s, "storage.localfs", bag)
	if err != nil {
		return err
	}
	count, err := s.MessageCount(ctx, bag)
	if err != nil {
		return err
	}
	if tagDirs, err := os.ReadDir(s.processingDir(bag)); err == nil {
		for _, tagDir := range tagDirs {
			if versions, err := os.ReadDir(filepath.Join(s.processingDir(bag), tagDir.Name())); err == nil {
				count += len(versions)
			}
		}
	}
	if count >= capacity {
		return repoerr.New(repoerr.BagFull, "storage.localfs", "AddMessage", map[string]any{"bag": bag.Key(), "capacity": capacity})
	}
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "AddMessage", nil, err)
	}
	if s.messageExists(bag, msgCitation) {
		return repoerr.New(repoerr.MessageExists, "storage.localfs", "AddMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
	}
	data, err := bali.EncodeMessage(message)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "AddMessage", nil, err)
	}
	if err := writeAtomic(messageFile(s.availableDir(bag), msgCitation), data, modeMutable); err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "AddMessage", nil, err)
	}
	return nil
}

// RemoveMessage implements the atomic claim protocol: list, pick at
// random, read, unlink, write to processing; loop on a lost race (the
// unlink or the read failing with not-found means another claimant won).
func (s *LocalFS) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	for {
		candidate, err := s.pickAvailable(bag)
		if err != nil {
			return nil, err
		}
		if candidate == "" {
			return nil, nil
		}

		data, err := os.ReadFile(candidate)
		if os.IsNotExist(err) {
			metrics.BagClaimRacesTotal.WithLabelValues(bag.Key()).Inc()
			continue // another claimant already took it; retry
		}
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "RemoveMessage", nil, err)
		}

		if err := os.Remove(candidate); err != nil {
			if os.IsNotExist(err) {
				metrics.BagClaimRacesTotal.WithLabelValues(bag.Key()).Inc()
				continue // lost the race between read and unlink; retry
			}
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "RemoveMessage", nil, err)
		}

		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "RemoveMessage", nil, err)
		}
		msgCitation, err := notary.CiteDocument(msg.Document)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "RemoveMessage", nil, err)
		}
		if err := writeAtomic(messageFile(s.processingDir(bag), msgCitation), data, modeMutable); err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "RemoveMessage", nil, err)
		}
		return &msg, nil
	}
}

// pickAvailable lists candidate message files and picks one uniformly at
// random, returning "" if the partition is empty.
func (s *LocalFS) pickAvailable(bag types.Citation) (string, error) {
	base := s.availableDir(bag)
	tagDirs, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "pickAvailable", nil, err)
	}

	var candidates []string
	for _, tagDir := range tagDirs {
		if !tagDir.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(base, tagDir.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			candidates = append(candidates, filepath.Join(base, tagDir.Name(), v.Name()))
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (s *LocalFS) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReturnMessage", nil, err)
	}
	path := messageFile(s.processingDir(bag), msgCitation)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return repoerr.New(repoerr.LeaseExpired, "storage.localfs", "ReturnMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return repoerr.New(repoerr.LeaseExpired, "storage.localfs", "ReturnMessage", nil)
		}
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReturnMessage", nil, err)
	}

	nextVersion, err := message.Document.Parameters.Version.NextVersion(0)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReturnMessage", nil, err)
	}
	bumped := message
	bumped.Document.Parameters = bumped.Document.Parameters.Clone()
	bumped.Document.Parameters.Version = nextVersion
	newCitation, err := notary.CiteDocument(bumped.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReturnMessage", nil, err)
	}
	data, err := bali.EncodeMessage(bumped)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ReturnMessage", nil, err)
	}
	return writeAtomic(messageFile(s.availableDir(bag), newCitation), data, modeMutable)
}

func (s *LocalFS) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	path := messageFile(s.processingDir(bag), citation)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, repoerr.New(repoerr.LeaseExpired, "storage.localfs", "DeleteMessage", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "DeleteMessage", nil, err)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil, repoerr.New(repoerr.LeaseExpired, "storage.localfs", "DeleteMessage", nil)
		}
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "DeleteMessage", nil, err)
	}
	msg, err := bali.DecodeMessage(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "DeleteMessage", nil, err)
	}
	return &msg, nil
}

// ListProcessing implements ProcessingLister for the lease sweeper
//, reporting each processing entry's claim time as its file mtime.
func (s *LocalFS) ListProcessing(ctx context.Context, bag types.Citation) ([]ProcessingEntry, error) {
	base := s.processingDir(bag)
	tagDirs, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.localfs", "ListProcessing", nil, err)
	}

	var entries []ProcessingEntry
	for _, tagDir := range tagDirs {
		versions, err := os.ReadDir(filepath.Join(base, tagDir.Name()))
		if err != nil {
			continue
		}
		for _, v := range versions {
			path := filepath.Join(base, tagDir.Name(), v.Name())
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			msg, err := bali.DecodeMessage(data)
			if err != nil {
				continue
			}
			citation, err := notary.CiteDocument(msg.Document)
			if err != nil {
				continue
			}
			entries = append(entries, ProcessingEntry{Citation: citation, Message: msg, ClaimedAt: info.ModTime()})
		}
	}
	return entries, nil
}
