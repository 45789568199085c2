package server

// Loader identifies a parent loader in the delegation chain
// Engine -> Service -> Server -> Launcher -> platform.
type Loader interface {
	Name() string
}

type namedLoader string

func (l namedLoader) Name() string {
	return string(l)
}

// NewLoader returns a Loader identified by name.
func NewLoader(name string) Loader {
	return namedLoader(name)
}

var platformLoader Loader = namedLoader("platform")

// Platform returns the terminal loader of every delegation chain.
func Platform() Loader {
	return platformLoader
}

// Launcher is the optional outer component that started the Server. It is
// only consulted for loader resolution and never lifecycle-owned.
type Launcher interface {
	ParentLoader() Loader
}
