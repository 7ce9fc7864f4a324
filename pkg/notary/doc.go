/*
Package notary implements the repository's notary: citing a Document's
bytes, notarizing it into a Contract, and verifying a Contract against
its signing certificate, including the material the recursive
certificate-chain walk in pkg/storage consumes.

Citations are sha-256 digests over a Document's canonical bali encoding;
signatures are ed25519. Key distribution and revocation belong to the
deployment, not to this package.
*/
package notary
