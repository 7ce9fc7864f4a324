package types

import "fmt"

// CitationProtocol identifies the version of the citation/digest scheme in
// use, so a future protocol bump can be detected rather than silently
// mismatched.
const CitationProtocol = "v1"

// Citation is a cryptographic fingerprint of a specific document's bytes:
// {protocol, tag, version, digest}. Citations are a pure function of the
// bytes they cite and are created only by the notary.
type Citation struct {
	Protocol string
	Tag      Tag
	Version  Version
	Digest   []byte // raw digest bytes, algorithm implied by Protocol
}

// String renders the Citation in its canonical textual form:
// "<tag> <version> <protocol> <hex-digest>".
func (c Citation) String() string {
	return fmt.Sprintf("%s %s %s %x", c.Tag, c.Version, c.Protocol, c.Digest)
}

// Key renders a filesystem/storage-key-safe form of the citation's
// addressing components (tag and version only — the digest is not part of
// the address, only of the integrity check).
func (c Citation) Key() string {
	return c.Tag.Key() + "/" + c.Version.Key()
}

// IsZero reports whether c is the zero-value Citation.
func (c Citation) IsZero() bool {
	return c.Tag.IsZero()
}

// Equal reports whether two Citations address the same (tag, version) and
// carry the same digest.
func (c Citation) Equal(other Citation) bool {
	return c.Protocol == other.Protocol &&
		c.Tag.Equal(other.Tag) &&
		c.Version.Equal(other.Version) &&
		string(c.Digest) == string(other.Digest)
}
