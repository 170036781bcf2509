package vfs

// Intent is the kind of access a principal asks for.
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
)

func (i Intent) String() string {
	if i == IntentWrite {
		return "write"
	}
	return "read"
}

// Principal is the authenticated identity bound to a view.
type Principal interface {
	Name() string
	// Home is the user's home in the form store:bucket[/path].
	Home() string
	// Authorize reports whether intent is allowed on physicalPath,
	// which has the form /<bucket>/<key>.
	Authorize(physicalPath string, intent Intent) bool
}
