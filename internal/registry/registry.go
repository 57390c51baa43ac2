package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Kind groups component identifiers by the external factory that instantiates them.
type Kind string

const (
	KindDataset Kind = "dataset"
	KindSampler Kind = "sampler"
	KindCollate Kind = "collate"
	KindParser  Kind = "parser"
	KindModel   Kind = "model"
	KindModule  Kind = "module"
)

const maxNameLength = 128

var (
	// ErrUnknownKind indicates a component kind outside the supported set.
	ErrUnknownKind = errors.New("unknown component kind")
	// ErrInvalidComponents indicates empty or malformed component names.
	ErrInvalidComponents = errors.New("component names must be non-empty identifiers without whitespace")
)

var defaultComponents = map[Kind][]string{
	KindDataset: {"LArCVDataset"},
	KindSampler: {"RandomSequenceSampler", "SequentialBatchSampler", "BootstrapBatchSampler"},
	KindCollate: {"CollateSparse", "CollateDense"},
	KindParser: {
		"parse_sparse3d_scn",
		"parse_sparse3d",
		"parse_sparse3d_fragment",
		"parse_semantics",
		"parse_dbscan",
		"parse_cluster3d",
		"parse_cluster3d_clean",
		"parse_cluster3d_full",
		"parse_particle_points",
		"parse_particle_graph",
		"parse_em_primaries",
	},
	KindModel:  {"uresnet_lonely", "uresnet_ppn_chain", "cluster_gnn", "cluster_iter_gnn", "full_chain", "full_edge_gnn"},
	KindModule: {"edge_only", "edge_node_only", "full_edge", "basic_attention", "nnconv", "econv", "modular_nnconv"},
}

// Kinds returns every supported component kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindDataset, KindSampler, KindCollate, KindParser, KindModel, KindModule}
}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.TrimSpace(raw))
	if _, ok := defaultComponents[k]; !ok {
		return "", ErrUnknownKind
	}
	return k, nil
}

// Registry provides access to the component identifiers known to the external framework.
type Registry interface {
	Components(kind Kind) ([]string, error)
	Register(kind Kind, names []string) error
	Has(kind Kind, name string) bool
}

// MemoryRegistry keeps component names in-memory and guards access with a RWMutex.
type MemoryRegistry struct {
	mu         sync.RWMutex
	components map[Kind]map[string]struct{}
}

// NewMemoryRegistry initialises a registry seeded with the default components.
func NewMemoryRegistry() *MemoryRegistry {
	r := &MemoryRegistry{components: make(map[Kind]map[string]struct{}, len(defaultComponents))}
	for kind, names := range defaultComponents {
		set := make(map[string]struct{}, len(names))
		for _, name := range names {
			set[name] = struct{}{}
		}
		r.components[kind] = set
	}
	return r
}

// DefaultComponents returns a sorted copy of the seeded names for kind.
func DefaultComponents(kind Kind) []string {
	out := append([]string(nil), defaultComponents[kind]...)
	sort.Strings(out)
	return out
}

// Components returns the sorted names registered for kind.
func (r *MemoryRegistry) Components(kind Kind) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.components[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Register adds names to kind. Registration is additive and idempotent; either
// all names are added or none.
func (r *MemoryRegistry) Register(kind Kind, names []string) error {
	normalized, err := normalizeNames(names)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.components[kind]
	if !ok {
		return ErrUnknownKind
	}
	for _, name := range normalized {
		set[name] = struct{}{}
	}
	return nil
}

// Has reports whether name is registered for kind.
func (r *MemoryRegistry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.components[kind][name]
	return ok
}

func normalizeNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, ErrInvalidComponents
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > maxNameLength || strings.ContainsAny(name, " \t\r\n") {
			return nil, ErrInvalidComponents
		}
		out = append(out, name)
	}
	return out, nil
}
