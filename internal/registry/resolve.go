package registry

import (
	"sort"

	"go.uber.org/multierr"

	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

// Resolve checks every component identifier in doc against reg and returns the
// combined UnknownIdentifierErrors, or nil when all names resolve.
func Resolve(doc *trainconfig.Document, reg Registry) error {
	var err error
	check := func(path string, kind Kind, name string) {
		if name == "" || reg.Has(kind, name) {
			return
		}
		err = multierr.Append(err, &trainconfig.UnknownIdentifierError{Path: path, Kind: string(kind), Name: name})
	}

	io := doc.IOTool
	check("iotool.collate_fn", KindCollate, io.CollateFn)
	if io.Sampler != nil {
		check("iotool.sampler.name", KindSampler, io.Sampler.Name)
	}
	check("iotool.dataset.name", KindDataset, io.Dataset.Name)
	for _, field := range sortedKeys(io.Dataset.Schema) {
		if parser, _, ok := io.Dataset.Parser(field); ok {
			check("iotool.dataset.schema."+field+"[0]", KindParser, parser)
		}
	}

	check("model.name", KindModel, doc.Model.Name)
	for _, name := range sortedKeys(doc.Model.Modules) {
		check("model.modules."+name+".name", KindModule, doc.Model.Modules[name].Name)
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
