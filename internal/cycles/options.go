package cycles

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

// DefaultTimeout bounds a run when the caller does not set one.
const DefaultTimeout = 30 * time.Second

// ErrInvalidOptions is returned before traversal when Options fail validation.
var ErrInvalidOptions = errors.New("invalid detection options")

var validate = validator.New()

// Options bound a detection run. Empty EdgeTypes means every edge type is
// followed; empty ExcludeNodeTypes excludes nothing.
type Options struct {
	MaxDepth         int              `json:"max_depth" validate:"gt=0"`
	MaxCycles        int              `json:"max_cycles" validate:"gt=0"`
	Timeout          time.Duration    `json:"timeout" validate:"gt=0"`
	EdgeTypes        []graph.EdgeType `json:"edge_types,omitempty"`
	ExcludeNodeTypes []graph.NodeType `json:"exclude_node_types,omitempty"`
}

// DefaultOptions allows unrestricted depth and cycle count with a
// conservative timeout.
func DefaultOptions() Options {
	return Options{
		MaxDepth:  math.MaxInt,
		MaxCycles: math.MaxInt,
		Timeout:   DefaultTimeout,
	}
}

// Validate rejects non-positive limits.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s must be %s %s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}

func edgeTypeSet(types []graph.EdgeType) map[graph.EdgeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[graph.EdgeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func nodeTypeSet(types []graph.NodeType) map[graph.NodeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[graph.NodeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
