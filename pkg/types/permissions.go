package types

// Permissions describes who may read a Document's content. The repository
// itself does not enforce permissions (that belongs to a caller-supplied
// policy layer); the value is carried through
// unchanged so one exists for a future enforcement point to consult.
type Permissions string

const (
	PermissionsPublic  Permissions = "public"
	PermissionsPrivate Permissions = "private"
)

// IsZero reports whether p was never set.
func (p Permissions) IsZero() bool {
	return p == ""
}
