package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/storage"
	"github.com/cuemby/nebula/pkg/types"
)

const (
	defaultBagCapacity = 10
	defaultBagLease    = 60 * time.Second
)

// EventBagName is the fixed bag every PublishEvent call posts into.
const EventBagName = "/nebula/events/bag/v1"

// DocumentRepository is the facade sitting atop any
// StorageMechanism stack. It owns no storage semantics of its own; every
// guarantee comes from the store underneath and the notary beside it.
type DocumentRepository struct {
	store  storage.StorageMechanism
	notary *notary.Notary
	logger zerolog.Logger
}

// New builds a DocumentRepository over store, signing with n.
func New(store storage.StorageMechanism, n *notary.Notary) *DocumentRepository {
	return &DocumentRepository{
		store:  store,
		notary: n,
		logger: log.WithComponent("repository"),
	}
}

// CreateDraft resolves typeName to its schema contract and seeds a new
// Document from it: fresh tag, version v1, no previous, the schema's
// per-attribute defaults as starting content, overlaid with template.
func (r *DocumentRepository) CreateDraft(ctx context.Context, typeName types.Name, permissions types.Permissions, template map[string]any) (types.Document, error) {
	citation, err := r.store.ReadName(ctx, typeName)
	if err != nil {
		return types.Document{}, err
	}
	if citation == nil {
		return types.Document{}, repoerr.New(repoerr.UnknownType, "repository", "CreateDraft", map[string]any{"type": typeName.String()})
	}
	schema, err := r.store.ReadContract(ctx, *citation)
	if err != nil {
		return types.Document{}, err
	}
	if schema == nil {
		return types.Document{}, repoerr.New(repoerr.UnknownType, "repository", "CreateDraft", map[string]any{"type": typeName.String()})
	}

	tag, err := types.NewTag()
	if err != nil {
		return types.Document{}, repoerr.Wrap(repoerr.Unexpected, "repository", "CreateDraft", nil, err)
	}
	version, err := types.NewVersion(1)
	if err != nil {
		return types.Document{}, repoerr.Wrap(repoerr.Unexpected, "repository", "CreateDraft", nil, err)
	}

	content := make(map[string]any, len(schema.Document.Content)+len(template))
	for k, v := range schema.Document.Content {
		content[k] = v
	}
	for k, v := range template {
		content[k] = v
	}

	return types.NewDocument(types.Parameters{
		Tag:         tag,
		Version:     version,
		Type:        typeName,
		Permissions: permissions,
	}, content), nil
}

// SaveDraft notarizes draft and writes it as an overwritable draft.
func (r *DocumentRepository) SaveDraft(ctx context.Context, draft types.Document) (types.Citation, error) {
	contract, err := r.notary.NotarizeDocument(draft)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "repository", "SaveDraft", nil, err)
	}
	citation, err := r.store.WriteDocument(ctx, contract.Document)
	if err != nil {
		return types.Citation{}, err
	}
	r.logger.Debug().Str("tag", citation.Tag.String()).Str("version", citation.Version.String()).Msg("draft saved")
	return citation, nil
}

// RetrieveDraft reads a draft back by citation, nil if absent.
func (r *DocumentRepository) RetrieveDraft(ctx context.Context, citation types.Citation) (*types.Document, error) {
	return r.store.ReadDocument(ctx, citation)
}

// DiscardDraft deletes a draft, reporting whether one existed.
func (r *DocumentRepository) DiscardDraft(ctx context.Context, citation types.Citation) (bool, error) {
	prior, err := r.store.DeleteDocument(ctx, citation)
	if err != nil {
		return false, err
	}
	return prior != nil, nil
}

// Commit notarizes draft, writes the resulting Contract, and binds name
// to it. It fails NameExists before writing anything when name is
// already bound.
func (r *DocumentRepository) Commit(ctx context.Context, name types.Name, draft types.Document) (types.Citation, error) {
	bound, err := r.store.NameExists(ctx, name)
	if err != nil {
		return types.Citation{}, err
	}
	if bound {
		return types.Citation{}, repoerr.New(repoerr.NameExists, "repository", "Commit", map[string]any{"name": name.String()})
	}
	contract, err := r.notary.NotarizeDocument(draft)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "repository", "Commit", nil, err)
	}
	citation, err := r.store.WriteContract(ctx, contract)
	if err != nil {
		return types.Citation{}, err
	}
	if _, err := r.store.WriteName(ctx, name, citation); err != nil {
		return types.Citation{}, err
	}
	r.logger.Info().Str("name", name.String()).Str("tag", citation.Tag.String()).Msg("contract committed")
	return citation, nil
}

// RetrieveContract resolves name to its Contract, nil if the name is
// unbound.
func (r *DocumentRepository) RetrieveContract(ctx context.Context, name types.Name) (*types.Contract, error) {
	citation, err := r.store.ReadName(ctx, name)
	if err != nil || citation == nil {
		return nil, err
	}
	return r.store.ReadContract(ctx, *citation)
}

// Checkout reads the Contract bound to name and derives an unsigned
// Document at the next version (incrementing the given level component),
// with previous set to the current contract's citation, ready to be
// edited and committed under a new name.
func (r *DocumentRepository) Checkout(ctx context.Context, name types.Name, level int) (types.Document, error) {
	citation, err := r.store.ReadName(ctx, name)
	if err != nil {
		return types.Document{}, err
	}
	if citation == nil {
		return types.Document{}, repoerr.New(repoerr.UnknownName, "repository", "Checkout", map[string]any{"name": name.String()})
	}
	contract, err := r.store.ReadContract(ctx, *citation)
	if err != nil {
		return types.Document{}, err
	}
	if contract == nil {
		return types.Document{}, repoerr.New(repoerr.MissingDocument, "repository", "Checkout", map[string]any{"name": name.String()})
	}

	next, err := contract.Document.Parameters.Version.NextVersion(level)
	if err != nil {
		return types.Document{}, repoerr.Wrap(repoerr.Unexpected, "repository", "Checkout", map[string]any{"name": name.String(), "level": level}, err)
	}
	doc := contract.Document.Clone()
	params := doc.Parameters
	params.Version = next
	prev := *citation
	params.Previous = &prev
	return doc.WithParameters(params), nil
}

// CreateBag constructs a bag Document with the given capacity and lease
// (zero values take the documented defaults), notarizes it, writes the
// Contract, and binds name to it.
func (r *DocumentRepository) CreateBag(ctx context.Context, name types.Name, permissions types.Permissions, capacity int, lease time.Duration) (types.Citation, error) {
	if capacity <= 0 {
		capacity = defaultBagCapacity
	}
	if lease <= 0 {
		lease = defaultBagLease
	}
	tag, err := types.NewTag()
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "repository", "CreateBag", nil, err)
	}
	version, err := types.NewVersion(1)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "repository", "CreateBag", nil, err)
	}
	doc := types.NewDocument(types.Parameters{
		Tag:         tag,
		Version:     version,
		Permissions: permissions,
	}, types.NewBagContent(capacity, lease))
	return r.Commit(ctx, name, doc)
}

// resolveBag maps a bag Name to its Contract's citation, failing
// UnknownBag when the name is unbound.
func (r *DocumentRepository) resolveBag(ctx context.Context, bag types.Name, procedure string) (types.Citation, error) {
	citation, err := r.store.ReadName(ctx, bag)
	if err != nil {
		return types.Citation{}, err
	}
	if citation == nil {
		return types.Citation{}, repoerr.New(repoerr.UnknownBag, "repository", procedure, map[string]any{"bag": bag.String()})
	}
	return *citation, nil
}

// PostMessage stamps message with the bag it is being posted into,
// notarizes the result, and adds it to the bag. The bag reference has to
// go in before signing — it is part of the document's bytes.
func (r *DocumentRepository) PostMessage(ctx context.Context, bag types.Name, message types.Document) error {
	bagCitation, err := r.resolveBag(ctx, bag, "PostMessage")
	if err != nil {
		return err
	}
	msg, err := r.notary.NotarizeMessage(message, bag)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "repository", "PostMessage", nil, err)
	}
	if err := r.store.AddMessage(ctx, bagCitation, msg); err != nil {
		return err
	}
	r.logger.Info().Str("bag", bag.String()).Str("tag", message.Parameters.Tag.String()).Msg("message posted")
	return nil
}

// BorrowMessage claims one available message from the bag at random,
// nil if the bag is empty.
func (r *DocumentRepository) BorrowMessage(ctx context.Context, bag types.Name) (*types.Message, error) {
	bagCitation, err := r.resolveBag(ctx, bag, "BorrowMessage")
	if err != nil {
		return nil, err
	}
	return r.store.RemoveMessage(ctx, bagCitation)
}

// RejectMessage returns a borrowed message to its bag (read off the
// message's own bag parameter), bumping its version.
func (r *DocumentRepository) RejectMessage(ctx context.Context, message types.Message) error {
	bagCitation, err := r.resolveBag(ctx, message.BagName(), "RejectMessage")
	if err != nil {
		return err
	}
	return r.store.ReturnMessage(ctx, bagCitation, message)
}

// AcceptMessage permanently removes a borrowed message from its bag's
// processing partition.
func (r *DocumentRepository) AcceptMessage(ctx context.Context, message types.Message) error {
	bagCitation, err := r.resolveBag(ctx, message.BagName(), "AcceptMessage")
	if err != nil {
		return err
	}
	citation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "repository", "AcceptMessage", nil, err)
	}
	_, err = r.store.DeleteMessage(ctx, bagCitation, citation)
	return err
}

// PublishEvent posts event into the fixed event bag.
func (r *DocumentRepository) PublishEvent(ctx context.Context, event types.Document) error {
	bag, err := types.NewName(EventBagName)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "repository", "PublishEvent", nil, err)
	}
	return r.PostMessage(ctx, bag, event)
}
