/*
Package bali implements a minimal, deterministic, round-trip-stable
subset of the "bali" document notation whose full textual grammar
belongs to the external component framework. It serializes this repository's own
Citation, Document, Contract, and Message values to canonical UTF-8 text
followed by exactly one LF, and parses that text back.

Encoding is split in two: the fixed-shape envelope (tag, version, type,
permissions, previous/certificate citations) uses a hand-written
catalog-like syntax in the flavor of bali's "[$key: value]" associations;
a Document's free-form Content map — genuinely arbitrary, schema-defined
catalog data — is encoded as compact JSON with lexicographically sorted
keys (encoding/json already sorts map keys), so arbitrary nested content
round-trips without this package having to reinvent a general value
grammar.
*/
package bali
