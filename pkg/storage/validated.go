package storage

import (
	"context"

	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

// maxCertificateChainDepth bounds the recursive validateContract walk.
// Certificate chain depth is unbounded by the data model itself; this
// caps adversarial recursion at a depth no legitimate chain would reach.
const maxCertificateChainDepth = 16

// Validated wraps a StorageMechanism and cryptographically verifies every
// Contract read/write and every name binding, using the free-function
// notary checks (citationMatches, validContract) so this wrapper never
// needs a private signing key.
type Validated struct {
	inner StorageMechanism
}

// NewValidated wraps inner with citation and certificate-chain checks.
func NewValidated(inner StorageMechanism) *Validated {
	return &Validated{inner: inner}
}

func (v *Validated) NameExists(ctx context.Context, name types.Name) (bool, error) {
	return v.inner.NameExists(ctx, name)
}

func (v *Validated) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	return v.inner.ReadName(ctx, name)
}

// WriteName fetches the cited Contract and verifies its citation matches
// the cited document before binding the name to it.
func (v *Validated) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	contract, err := v.inner.ReadContract(ctx, citation)
	if err != nil {
		return types.Citation{}, err
	}
	if contract == nil {
		return types.Citation{}, repoerr.New(repoerr.MissingDocument, "storage.validated", "WriteName", map[string]any{"name": name.String(), "tag": citation.Tag.String()})
	}
	if !notary.CitationMatches(citation, contract.Document) {
		return types.Citation{}, repoerr.New(repoerr.ModifiedDocument, "storage.validated", "WriteName", map[string]any{"name": name.String(), "tag": citation.Tag.String()})
	}
	return v.inner.WriteName(ctx, name, citation)
}

func (v *Validated) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	return v.inner.DocumentExists(ctx, citation)
}

func (v *Validated) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	return v.inner.ReadDocument(ctx, citation)
}

func (v *Validated) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	return v.inner.WriteDocument(ctx, document)
}

func (v *Validated) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	return v.inner.DeleteDocument(ctx, citation)
}

func (v *Validated) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	return v.inner.ContractExists(ctx, citation)
}

// ReadContract fetches, verifies the citation matches the stored document,
// then walks validateContract before returning it to the caller.
func (v *Validated) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	contract, err := v.inner.ReadContract(ctx, citation)
	if err != nil || contract == nil {
		return contract, err
	}
	if !notary.CitationMatches(citation, contract.Document) {
		return nil, repoerr.New(repoerr.ModifiedDocument, "storage.validated", "ReadContract", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	if err := v.validateContract(ctx, *contract, 0); err != nil {
		return nil, err
	}
	return contract, nil
}

// WriteContract validates contract before persisting it.
func (v *Validated) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	if err := v.validateContract(ctx, contract, 0); err != nil {
		return types.Citation{}, err
	}
	return v.inner.WriteContract(ctx, contract)
}

// validateContract is the recursive checker. It terminates at the
// self-signed base case on some ancestor certificate, bounded by
// maxCertificateChainDepth against adversarial recursion.
func (v *Validated) validateContract(ctx context.Context, c types.Contract, depth int) error {
	if depth > maxCertificateChainDepth {
		return repoerr.New(repoerr.ContractInvalid, "storage.validated", "validateContract", map[string]any{"reason": "certificate chain too deep"})
	}

	if len(c.Signature) == 0 {
		return repoerr.New(repoerr.ContractInvalid, "storage.validated", "validateContract", map[string]any{"reason": "missing signature"})
	}

	if c.Document.Parameters.Previous != nil {
		prevCitation := *c.Document.Parameters.Previous
		prev, err := v.inner.ReadContract(ctx, prevCitation)
		if err != nil {
			return err
		}
		if prev == nil {
			return repoerr.New(repoerr.MissingDocument, "storage.validated", "validateContract", map[string]any{"tag": prevCitation.Tag.String(), "version": prevCitation.Version.String()})
		}
		if !notary.CitationMatches(prevCitation, prev.Document) {
			return repoerr.New(repoerr.ModifiedDocument, "storage.validated", "validateContract", map[string]any{"tag": prevCitation.Tag.String(), "version": prevCitation.Version.String()})
		}
		if err := v.validateContract(ctx, *prev, depth+1); err != nil {
			return err
		}
	}

	var certificate *types.Contract
	if c.Certificate != nil {
		certCitation := *c.Certificate
		cert, err := v.inner.ReadContract(ctx, certCitation)
		if err != nil {
			return err
		}
		if cert == nil {
			return repoerr.New(repoerr.MissingDocument, "storage.validated", "validateContract", map[string]any{"tag": certCitation.Tag.String(), "version": certCitation.Version.String()})
		}
		if !notary.CitationMatches(certCitation, cert.Document) {
			return repoerr.New(repoerr.ModifiedDocument, "storage.validated", "validateContract", map[string]any{"tag": certCitation.Tag.String(), "version": certCitation.Version.String()})
		}
		if err := v.validateContract(ctx, *cert, depth+1); err != nil {
			return err
		}
		certificate = cert
	} else {
		certificate = &c
	}

	if !notary.ValidContract(c, certificate) {
		return repoerr.New(repoerr.ContractInvalid, "storage.validated", "validateContract", map[string]any{"tag": "signature verification failed"})
	}
	return nil
}

func (v *Validated) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	return v.inner.MessageAvailable(ctx, bag)
}

func (v *Validated) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	return v.inner.MessageCount(ctx, bag)
}

func (v *Validated) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	return v.inner.AddMessage(ctx, bag, message)
}

func (v *Validated) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	return v.inner.RemoveMessage(ctx, bag)
}

func (v *Validated) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	return v.inner.ReturnMessage(ctx, bag, message)
}

func (v *Validated) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	return v.inner.DeleteMessage(ctx, bag, citation)
}

func (v *Validated) ListProcessing(ctx context.Context, bag types.Citation) ([]ProcessingEntry, error) {
	lister, ok := v.inner.(ProcessingLister)
	if !ok {
		return nil, nil
	}
	return lister.ListProcessing(ctx, bag)
}
