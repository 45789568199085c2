package server

import (
	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/pool"
)

// Status is a point in time view of one component and its children.
type Status struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	State    string      `json:"state"`
	Stats    *pool.Stats `json:"stats,omitempty"`
	Children []Status    `json:"children,omitempty"`
}

type statsProvider interface {
	Stats() pool.Stats
}

func statusOf(kind string, c lifecycle.Component) Status {
	st := Status{Name: c.Name(), Kind: kind, State: c.State().String()}
	if sp, ok := c.(statsProvider); ok {
		stats := sp.Stats()
		st.Stats = &stats
	}
	return st
}

// Snapshot returns the status tree of the server. It is safe to call
// concurrently with lifecycle transitions.
func (s *Server) Snapshot() Status {
	root := statusOf("server", s)
	root.Children = append(root.Children, statusOf("resources", s.GlobalNamingResources()))
	for _, svc := range s.FindServices() {
		root.Children = append(root.Children, svc.Snapshot())
	}
	return root
}

// Snapshot returns the status tree of the service.
func (s *Service) Snapshot() Status {
	st := statusOf("service", s)
	for _, ex := range s.FindExecutors() {
		st.Children = append(st.Children, statusOf("executor", ex))
	}
	if e := s.Container(); e != nil {
		st.Children = append(st.Children, statusOf("engine", e))
	}
	for _, c := range s.FindConnectors() {
		st.Children = append(st.Children, statusOf("connector", c))
	}
	return st
}
