package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/types"
)

const publicKeyField = "publicKey"

// Notary is a single signing identity: an ed25519 keypair plus, once
// generated, the Citation of its own self-signed certificate. It
// implements the notary collaborator contract consumed by
// pkg/repository and pkg/storage/validated.go.
type Notary struct {
	private            ed25519.PrivateKey
	public             ed25519.PublicKey
	certificateCitation *types.Citation
}

// New generates a fresh signing identity.
func New() (*Notary, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("notary: generate key: %w", err)
	}
	return &Notary{private: priv, public: pub}, nil
}

// CiteDocument computes the Citation that is a pure function of doc's
// bytes: a sha-256 digest over doc's canonical
// bali encoding, addressed at doc's own (tag, version).
func CiteDocument(doc types.Document) (types.Citation, error) {
	encoded, err := bali.EncodeDocument(doc)
	if err != nil {
		return types.Citation{}, fmt.Errorf("notary: cite document: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return types.Citation{
		Protocol: types.CitationProtocol,
		Tag:      doc.Parameters.Tag,
		Version:  doc.Parameters.Version,
		Digest:   sum[:],
	}, nil
}

// CitationMatches reports whether citation is exactly the Citation
// CiteDocument would compute for doc right now.
func CitationMatches(citation types.Citation, doc types.Document) bool {
	recomputed, err := CiteDocument(doc)
	if err != nil {
		return false
	}
	return citation.Equal(recomputed)
}

// GenerateCredentials produces a self-signed Contract — a Document whose
// content is this Notary's public key record — and remembers its Citation
// as this Notary's own certificate, which subsequent NotarizeDocument
// calls bind new contracts to. Calling it again issues a fresh
// certificate for the same keypair.
func (n *Notary) GenerateCredentials() (types.Contract, error) {
	tag, err := types.NewTag()
	if err != nil {
		return types.Contract{}, fmt.Errorf("notary: generate credentials: %w", err)
	}
	version, err := types.NewVersion(1)
	if err != nil {
		return types.Contract{}, err
	}
	doc := types.NewDocument(types.Parameters{
		Tag:         tag,
		Version:     version,
		Permissions: types.PermissionsPublic,
	}, map[string]any{publicKeyField: hex.EncodeToString(n.public)})

	citation, err := CiteDocument(doc)
	if err != nil {
		return types.Contract{}, err
	}
	contract := types.Contract{
		Document:  doc,
		Signature: ed25519.Sign(n.private, citation.Digest),
	}
	n.certificateCitation = &citation
	return contract, nil
}

// NotarizeDocument signs doc and returns a Contract bound to this
// Notary's own certificate (set by a prior GenerateCredentials call), or
// with Certificate == nil if no certificate has been generated yet. Such
// a contract carries no public key record of its own, so ValidContract
// cannot verify it; the verifiable self-signed base case is the Contract
// GenerateCredentials returns.
func (n *Notary) NotarizeDocument(doc types.Document) (types.Contract, error) {
	citation, err := CiteDocument(doc)
	if err != nil {
		return types.Contract{}, fmt.Errorf("notary: notarize document: %w", err)
	}
	contract := types.Contract{
		Document:  doc,
		Signature: ed25519.Sign(n.private, citation.Digest),
	}
	if n.certificateCitation != nil {
		cert := *n.certificateCitation
		contract.Certificate = &cert
	}
	return contract, nil
}

// NotarizeMessage builds a Message addressed at bag from an unsigned
// document: the bag reference is stamped into the document's parameters
// first and the result signed, so the signature covers the bag binding.
// Stamping a bag onto an already-notarized Contract would leave the
// signature stale, which is why Message construction lives here.
func (n *Notary) NotarizeMessage(doc types.Document, bag types.Name) (types.Message, error) {
	params := doc.Parameters.Clone()
	params.Bag = bag
	contract, err := n.NotarizeDocument(doc.WithParameters(params))
	if err != nil {
		return types.Message{}, fmt.Errorf("notary: notarize message: %w", err)
	}
	return types.Message{Contract: contract}, nil
}

// ValidContract verifies contract's signature against certificate's
// public key record. certificate == nil means contract is itself the
// self-signed base case: its own Document supplies the public key.
func ValidContract(contract types.Contract, certificate *types.Contract) bool {
	var keyDoc types.Document
	if certificate != nil {
		keyDoc = certificate.Document
	} else {
		keyDoc = contract.Document
	}
	pub, err := extractPublicKey(keyDoc)
	if err != nil {
		return false
	}
	citation, err := CiteDocument(contract.Document)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, citation.Digest, contract.Signature)
}

func extractPublicKey(doc types.Document) (ed25519.PublicKey, error) {
	raw, ok := doc.Content[publicKeyField]
	if !ok {
		return nil, fmt.Errorf("notary: document has no %q field", publicKeyField)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("notary: %q field is not a string", publicKeyField)
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("notary: decode public key: %w", err)
	}
	return ed25519.PublicKey(key), nil
}
