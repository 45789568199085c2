package bootstrap

import (
	"fmt"
	"strings"
)

// ResolveDependencies orders initializers so that each runs after its
// dependencies. Initializers without a mutual constraint keep their
// registration order.
func ResolveDependencies(initializers []Initializer) ([]Initializer, error) {
	byName := make(map[string]Initializer, len(initializers))
	for _, init := range initializers {
		if _, dup := byName[init.Name()]; dup {
			return nil, fmt.Errorf("duplicate initializer name: %s", init.Name())
		}
		byName[init.Name()] = init
	}
	for _, init := range initializers {
		for _, dep := range init.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("initializer %q depends on %q which is not registered", init.Name(), dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(initializers))
	ordered := make([]Initializer, 0, len(initializers))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range byName[name].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, init := range initializers {
		if err := visit(init.Name()); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
