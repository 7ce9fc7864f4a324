package types

// Contract is a notarized Document bound to the signing certificate: it is
// immutable and content-addressed: two writes of identical bytes yield
// the same Citation. Certificate is nil exactly
// when the Contract is self-signed, the base case of the validation
// recursion.
type Contract struct {
	Document    Document
	Certificate *Citation
	Signature   []byte
}

// IsSelfSigned reports whether c carries no certificate citation, i.e. it
// is its own trust anchor.
func (c Contract) IsSelfSigned() bool {
	return c.Certificate == nil
}
