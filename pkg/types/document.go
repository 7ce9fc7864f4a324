package types

// Parameters is the fixed set of addressing/lineage attributes every
// Document carries: {tag, version, type, permissions, previous}. Messages
// additionally set Bag, pointing at the owning bag's Name.
type Parameters struct {
	Tag         Tag
	Version     Version
	Type        Name // Name of the schema Contract this document was drafted from; zero if none.
	Permissions Permissions
	Previous    *Citation // nil if this is the first version in its lineage.
	Bag         Name      // set only on messages; zero Name otherwise.
}

// Clone returns a deep-enough copy of p: Previous is copied by value
// through a fresh pointer so mutating the clone's Previous never affects p.
func (p Parameters) Clone() Parameters {
	cp := p
	if p.Previous != nil {
		prev := *p.Previous
		cp.Previous = &prev
	}
	return cp
}

// Document is an unsigned catalog: free-form Content plus its Parameters.
// A Document is mutable while it is a draft (addressed by (tag, version)
// and overwritable) and frozen the instant it is wrapped in a Contract.
type Document struct {
	Parameters Parameters
	Content    map[string]any
}

// NewDocument builds a Document, defensively copying content so the
// caller's map can't mutate the Document after the fact.
func NewDocument(params Parameters, content map[string]any) Document {
	return Document{Parameters: params, Content: cloneContent(content)}
}

// Clone returns a deep-enough copy of d (Parameters and the top-level
// Content map; nested maps/slices inside Content are shared, matching the
// shallow-copy semantics createDraft uses when overlaying a schema's
// defaults with a template).
func (d Document) Clone() Document {
	return Document{Parameters: d.Parameters.Clone(), Content: cloneContent(d.Content)}
}

// WithParameters returns a copy of d with Parameters replaced.
func (d Document) WithParameters(p Parameters) Document {
	return Document{Parameters: p, Content: d.Content}
}

func cloneContent(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
