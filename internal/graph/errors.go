package graph

import "errors"

// Domain errors for the graph package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, graph.ErrEntityNotFound) {
//	    // handle unknown entity
//	}
var (
	// ErrEntityNotFound is returned when an entity id is not in the graph.
	ErrEntityNotFound = errors.New("graph: entity not found")

	// ErrServiceNotFound is returned when a capability has no matching service.
	ErrServiceNotFound = errors.New("graph: service not found")

	// ErrInvalidCapability is returned when a capability string is not "domain.service".
	ErrInvalidCapability = errors.New("graph: invalid capability")

	// ErrNotRefreshed is returned when the graph has never been populated.
	ErrNotRefreshed = errors.New("graph: not refreshed")
)
