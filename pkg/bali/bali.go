package bali

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/nebula/pkg/types"
)

const none = "none"

// EncodeCitation renders c as the canonical single-line file bytes stored
// under names/<name>.bali (a name binding is exactly a Citation).
func EncodeCitation(c types.Citation) []byte {
	return []byte(citationHeader(&c) + "\n")
}

// DecodeCitation parses the bytes produced by EncodeCitation.
func DecodeCitation(data []byte) (types.Citation, error) {
	line := strings.TrimRight(string(data), "\n")
	c, err := parseCitationToken(line)
	if err != nil {
		return types.Citation{}, err
	}
	if c == nil {
		return types.Citation{}, fmt.Errorf("bali: decode citation: got %q", none)
	}
	return *c, nil
}

// citationHeader renders the bracketed catalog form of a citation, or the
// literal "none" for a nil pointer.
func citationHeader(c *types.Citation) string {
	if c == nil {
		return none
	}
	return fmt.Sprintf("[$protocol: %s, $tag: %s, $version: %s, $digest: %s]",
		c.Protocol, c.Tag.String(), c.Version.String(), hex.EncodeToString(c.Digest))
}

func parseCitationToken(tok string) (*types.Citation, error) {
	tok = strings.TrimSpace(tok)
	if tok == none || tok == "" {
		return nil, nil
	}
	inner, err := bracketInner(tok)
	if err != nil {
		return nil, fmt.Errorf("bali: parse citation %q: %w", tok, err)
	}
	fields := map[string]string{}
	for _, pair := range splitPairs(inner) {
		k, v, err := splitPair(pair)
		if err != nil {
			return nil, fmt.Errorf("bali: parse citation %q: %w", tok, err)
		}
		fields[k] = v
	}
	tag, err := types.ParseTag(fields["$tag"])
	if err != nil {
		return nil, err
	}
	version, err := types.ParseVersion(fields["$version"])
	if err != nil {
		return nil, err
	}
	digest, err := hex.DecodeString(fields["$digest"])
	if err != nil {
		return nil, fmt.Errorf("bali: invalid digest: %w", err)
	}
	return &types.Citation{
		Protocol: fields["$protocol"],
		Tag:      tag,
		Version:  version,
		Digest:   digest,
	}, nil
}

// documentHeader renders a Document's Parameters as a bracketed catalog.
func documentHeader(p types.Parameters) string {
	typ := none
	if !p.Type.IsZero() {
		typ = p.Type.String()
	}
	perm := none
	if !p.Permissions.IsZero() {
		perm = string(p.Permissions)
	}
	bag := none
	if !p.Bag.IsZero() {
		bag = p.Bag.String()
	}
	return fmt.Sprintf("[$tag: %s, $version: %s, $type: %s, $permissions: %s, $previous: %s, $bag: %s]",
		p.Tag.String(), p.Version.String(), typ, perm, citationHeader(p.Previous), bag)
}

func parseDocumentHeader(line string) (types.Parameters, error) {
	inner, err := bracketInner(line)
	if err != nil {
		return types.Parameters{}, fmt.Errorf("bali: parse document header %q: %w", line, err)
	}
	fields := map[string]string{}
	for _, pair := range splitPairs(inner) {
		k, v, err := splitPair(pair)
		if err != nil {
			return types.Parameters{}, fmt.Errorf("bali: parse document header %q: %w", line, err)
		}
		fields[k] = v
	}
	tag, err := types.ParseTag(fields["$tag"])
	if err != nil {
		return types.Parameters{}, err
	}
	version, err := types.ParseVersion(fields["$version"])
	if err != nil {
		return types.Parameters{}, err
	}
	var typ types.Name
	if fields["$type"] != none && fields["$type"] != "" {
		typ, err = types.NewName(fields["$type"])
		if err != nil {
			return types.Parameters{}, err
		}
	}
	var perm types.Permissions
	if fields["$permissions"] != none && fields["$permissions"] != "" {
		perm = types.Permissions(fields["$permissions"])
	}
	var bag types.Name
	if fields["$bag"] != none && fields["$bag"] != "" {
		bag, err = types.NewName(fields["$bag"])
		if err != nil {
			return types.Parameters{}, err
		}
	}
	previous, err := parseCitationToken(fields["$previous"])
	if err != nil {
		return types.Parameters{}, err
	}
	return types.Parameters{
		Tag:         tag,
		Version:     version,
		Type:        typ,
		Permissions: perm,
		Previous:    previous,
		Bag:         bag,
	}, nil
}

// EncodeDocument renders d as canonical text + LF: a parameters header
// line followed by its JSON content line.
func EncodeDocument(d types.Document) ([]byte, error) {
	content, err := json.Marshal(emptyAsNil(d.Content))
	if err != nil {
		return nil, fmt.Errorf("bali: encode document content: %w", err)
	}
	return []byte(documentHeader(d.Parameters) + "\n" + string(content) + "\n"), nil
}

// DecodeDocument parses the bytes produced by EncodeDocument.
func DecodeDocument(data []byte) (types.Document, error) {
	lines := splitLines(data)
	if len(lines) < 2 {
		return types.Document{}, fmt.Errorf("bali: decode document: expected 2 lines, got %d", len(lines))
	}
	params, err := parseDocumentHeader(lines[0])
	if err != nil {
		return types.Document{}, err
	}
	var content map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &content); err != nil {
		return types.Document{}, fmt.Errorf("bali: decode document content: %w", err)
	}
	return types.NewDocument(params, content), nil
}

// EncodeContract renders c as canonical text + LF: a certificate/signature
// header line followed by its embedded document's two lines.
func EncodeContract(c types.Contract) ([]byte, error) {
	docBytes, err := EncodeDocument(c.Document)
	if err != nil {
		return nil, err
	}
	sig := none
	if len(c.Signature) > 0 {
		sig = hex.EncodeToString(c.Signature)
	}
	header := fmt.Sprintf("[$certificate: %s, $signature: %s]", citationHeader(c.Certificate), sig)
	return []byte(header + "\n" + string(docBytes)), nil
}

// DecodeContract parses the bytes produced by EncodeContract.
func DecodeContract(data []byte) (types.Contract, error) {
	lines := splitLines(data)
	if len(lines) < 3 {
		return types.Contract{}, fmt.Errorf("bali: decode contract: expected 3 lines, got %d", len(lines))
	}
	inner, err := bracketInner(lines[0])
	if err != nil {
		return types.Contract{}, fmt.Errorf("bali: decode contract header %q: %w", lines[0], err)
	}
	fields := map[string]string{}
	for _, pair := range splitPairs(inner) {
		k, v, err := splitPair(pair)
		if err != nil {
			return types.Contract{}, err
		}
		fields[k] = v
	}
	cert, err := parseCitationToken(fields["$certificate"])
	if err != nil {
		return types.Contract{}, err
	}
	var sig []byte
	if fields["$signature"] != none && fields["$signature"] != "" {
		sig, err = hex.DecodeString(fields["$signature"])
		if err != nil {
			return types.Contract{}, fmt.Errorf("bali: decode signature: %w", err)
		}
	}
	doc, err := DecodeDocument([]byte(strings.Join(lines[1:], "\n") + "\n"))
	if err != nil {
		return types.Contract{}, err
	}
	return types.Contract{Document: doc, Certificate: cert, Signature: sig}, nil
}

// EncodeMessage and DecodeMessage reuse the Contract codec: a Message is a
// Contract whose document carries the $bag parameter.
func EncodeMessage(m types.Message) ([]byte, error) {
	return EncodeContract(m.Contract)
}

func DecodeMessage(data []byte) (types.Message, error) {
	c, err := DecodeContract(data)
	if err != nil {
		return types.Message{}, err
	}
	return types.Message{Contract: c}, nil
}

func emptyAsNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func splitLines(data []byte) []string {
	s := strings.TrimRight(string(data), "\n")
	return strings.SplitN(s, "\n", -1)
}

// bracketInner strips a single layer of "[" "]" from a trimmed token.
func bracketInner(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return "", fmt.Errorf("expected bracketed catalog, got %q", s)
	}
	return s[1 : len(s)-1], nil
}

// splitPairs splits a catalog's inner text into "$key: value" tokens on
// top-level commas, tracking bracket depth so a nested citation's own
// commas don't split the outer catalog.
func splitPairs(inner string) []string {
	var pairs []string
	depth := 0
	start := 0
	for i, r := range inner {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				pairs = append(pairs, inner[start:i])
				start = i + 1
			}
		}
	}
	pairs = append(pairs, inner[start:])
	return pairs
}

// splitPair splits a single "$key: value" token on its first colon.
func splitPair(pair string) (key, value string, err error) {
	pair = strings.TrimSpace(pair)
	idx := strings.Index(pair, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed catalog entry %q", pair)
	}
	key = strings.TrimSpace(pair[:idx])
	value = strings.TrimSpace(pair[idx+1:])
	return key, value, nil
}
