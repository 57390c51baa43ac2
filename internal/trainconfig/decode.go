package trainconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// keyPath renders locations such as iotool.dataset.data_dirs[0].
type keyPath string

func (p keyPath) key(k string) keyPath {
	if p == "" {
		return keyPath(k)
	}
	return keyPath(string(p) + "." + k)
}

func (p keyPath) index(i int) keyPath {
	return keyPath(fmt.Sprintf("%s[%d]", p, i))
}

func (p keyPath) String() string {
	if p == "" {
		return "document"
	}
	return string(p)
}

const mergeTag = "!!merge"

// decoder walks a yaml.v3 node tree and remembers every mapping it opened so
// that keys nobody asked for can be reported afterwards.
type decoder struct {
	objects []*fields
}

type fields struct {
	d     *decoder
	path  keyPath
	nodes map[string]*yaml.Node
	order []string
	used  map[string]bool
}

func (d *decoder) object(n *yaml.Node, path keyPath) (*fields, error) {
	n = resolve(n)
	if n.Kind != yaml.MappingNode {
		return nil, mismatch(path, "mapping", n)
	}
	f := &fields{
		d:     d,
		path:  path,
		nodes: make(map[string]*yaml.Node, len(n.Content)/2),
		used:  make(map[string]bool, len(n.Content)/2),
	}
	if err := f.fold(n, true); err != nil {
		return nil, err
	}
	d.objects = append(d.objects, f)
	return f, nil
}

// fold adds the pairs of mapping n. Keys already present win, so explicit keys
// are folded before merge keys (<<) and earlier merge sources before later ones.
func (f *fields) fold(n *yaml.Node, explicit bool) error {
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := resolve(n.Content[i])
		if k.Kind != yaml.ScalarNode {
			return mismatch(f.path, "mapping with string keys", k)
		}
		if k.ShortTag() == mergeTag {
			merges = append(merges, n.Content[i+1])
			continue
		}
		if _, dup := f.nodes[k.Value]; dup {
			if explicit {
				return &ConstraintError{Path: f.path.key(k.Value).String(), Reason: "duplicate key"}
			}
			continue
		}
		f.nodes[k.Value] = n.Content[i+1]
		f.order = append(f.order, k.Value)
	}

	for _, m := range merges {
		m = resolve(m)
		sources := []*yaml.Node{m}
		if m.Kind == yaml.SequenceNode {
			sources = m.Content
		}
		for _, src := range sources {
			src = resolve(src)
			if src.Kind != yaml.MappingNode {
				return mismatch(f.path.key("<<"), "mapping or sequence of mappings", src)
			}
			if err := f.fold(src, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// unknownKeys returns the paths of keys that were never looked up, in source order.
func (d *decoder) unknownKeys() []string {
	var out []string
	for _, f := range d.objects {
		for _, key := range f.order {
			if !f.used[key] {
				out = append(out, f.path.key(key).String())
			}
		}
	}
	return out
}

func (f *fields) lookup(key string, required bool) (*yaml.Node, bool, error) {
	f.used[key] = true
	n := resolve(f.nodes[key])
	if isNull(n) {
		if required {
			return nil, false, &MissingFieldError{Path: f.path.key(key).String()}
		}
		return nil, false, nil
	}
	return n, true, nil
}

func (f *fields) integer(key string, required bool, def int) (int, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil || !ok {
		return def, err
	}
	path := f.path.key(key)
	if err := expectScalar(n, path, "integer", "!!int"); err != nil {
		return 0, err
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return 0, mismatch(path, "integer", n)
	}
	return v, nil
}

func (f *fields) float(key string, required bool, def float64) (float64, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil || !ok {
		return def, err
	}
	path := f.path.key(key)
	if err := expectScalar(n, path, "float", "!!float", "!!int"); err != nil {
		return 0, err
	}
	var v float64
	if err := n.Decode(&v); err != nil {
		return 0, mismatch(path, "float", n)
	}
	return v, nil
}

func (f *fields) boolean(key string, required bool, def bool) (bool, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil || !ok {
		return def, err
	}
	if err := expectScalar(n, f.path.key(key), "boolean", "!!bool"); err != nil {
		return false, err
	}
	var v bool
	if err := n.Decode(&v); err != nil {
		return false, mismatch(f.path.key(key), "boolean", n)
	}
	return v, nil
}

func (f *fields) str(key string, required bool, def string) (string, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil || !ok {
		return def, err
	}
	if err := expectScalar(n, f.path.key(key), "string", "!!str"); err != nil {
		return "", err
	}
	return n.Value, nil
}

// deviceList accepts gpus: '3' as well as an unquoted gpus: 3.
func (f *fields) deviceList(key string) (string, error) {
	n, ok, err := f.lookup(key, false)
	if err != nil || !ok {
		return "", err
	}
	if err := expectScalar(n, f.path.key(key), "string", "!!str", "!!int"); err != nil {
		return "", err
	}
	return n.Value, nil
}

func (f *fields) strings(key string, required bool) ([]string, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return stringList(n, f.path.key(key))
}

func (f *fields) mapping(key string, required bool) (*fields, bool, error) {
	n, ok, err := f.lookup(key, required)
	if err != nil || !ok {
		return nil, false, err
	}
	obj, err := f.d.object(n, f.path.key(key))
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// freeform decodes an arbitrary mapping without tracking its keys.
func (f *fields) freeform(key string) (map[string]any, error) {
	n, ok, err := f.lookup(key, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, mismatch(f.path.key(key), "mapping", n)
	}
	out := map[string]any{}
	if err := n.Decode(&out); err != nil {
		return nil, mismatch(f.path.key(key), "mapping", n)
	}
	return out, nil
}

func stringList(n *yaml.Node, path keyPath) ([]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, mismatch(path, "list of strings", n)
	}
	out := make([]string, 0, len(n.Content))
	for i, item := range n.Content {
		item = resolve(item)
		if err := expectScalar(item, path.index(i), "string", "!!str"); err != nil {
			return nil, err
		}
		out = append(out, item.Value)
	}
	return out, nil
}

func expectScalar(n *yaml.Node, path keyPath, expected string, tags ...string) error {
	if n.Kind != yaml.ScalarNode {
		return mismatch(path, expected, n)
	}
	tag := n.ShortTag()
	for _, t := range tags {
		if tag == t {
			return nil
		}
	}
	return mismatch(path, expected, n)
}

func mismatch(path keyPath, expected string, n *yaml.Node) *TypeMismatchError {
	e := &TypeMismatchError{Path: path.String(), Expected: expected, Actual: describe(n)}
	if n != nil && n.Kind == yaml.ScalarNode {
		e.Value = n.Value
	}
	return e
}

func describe(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!str":
			return "string"
		case "!!int":
			return "integer"
		case "!!float":
			return "float"
		case "!!bool":
			return "boolean"
		case "!!null":
			return "null"
		default:
			return n.ShortTag()
		}
	default:
		return "unsupported node"
	}
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func decodeDocument(root *yaml.Node) (*Document, error) {
	top := root
	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		top = top.Content[0]
	}
	if top.Kind == 0 || top.Kind == yaml.DocumentNode || isNull(top) {
		top = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	d := &decoder{}
	f, err := d.object(top, "")
	if err != nil {
		return nil, err
	}

	var doc Document
	io, _, err := f.mapping("iotool", true)
	if err != nil {
		return nil, err
	}
	if doc.IOTool, err = decodeIOTool(io); err != nil {
		return nil, err
	}

	model, _, err := f.mapping("model", true)
	if err != nil {
		return nil, err
	}
	if doc.Model, err = decodeModel(model); err != nil {
		return nil, err
	}

	training, _, err := f.mapping("training", true)
	if err != nil {
		return nil, err
	}
	if doc.Training, err = decodeTraining(training); err != nil {
		return nil, err
	}

	doc.UnknownKeys = d.unknownKeys()
	return &doc, nil
}

func decodeIOTool(f *fields) (IOToolConfig, error) {
	var (
		cfg IOToolConfig
		err error
	)
	if cfg.BatchSize, err = f.integer("batch_size", true, 0); err != nil {
		return cfg, err
	}
	if cfg.Shuffle, err = f.boolean("shuffle", false, false); err != nil {
		return cfg, err
	}
	if cfg.NumWorkers, err = f.integer("num_workers", false, 0); err != nil {
		return cfg, err
	}
	if cfg.CollateFn, err = f.str("collate_fn", false, ""); err != nil {
		return cfg, err
	}

	sampler, ok, err := f.mapping("sampler", false)
	if err != nil {
		return cfg, err
	}
	if ok {
		var s SamplerConfig
		if s.Name, err = sampler.str("name", true, ""); err != nil {
			return cfg, err
		}
		if s.BatchSize, err = sampler.integer("batch_size", true, 0); err != nil {
			return cfg, err
		}
		cfg.Sampler = &s
	}

	dataset, _, err := f.mapping("dataset", true)
	if err != nil {
		return cfg, err
	}
	cfg.Dataset, err = decodeDataset(dataset)
	return cfg, err
}

func decodeDataset(f *fields) (DatasetConfig, error) {
	var (
		cfg DatasetConfig
		err error
	)
	if cfg.Name, err = f.str("name", true, ""); err != nil {
		return cfg, err
	}
	if cfg.DataDirs, err = f.strings("data_dirs", true); err != nil {
		return cfg, err
	}
	if cfg.DataKey, err = f.str("data_key", false, ""); err != nil {
		return cfg, err
	}
	if cfg.LimitNumFiles, err = f.integer("limit_num_files", false, 0); err != nil {
		return cfg, err
	}

	schema, _, err := f.mapping("schema", true)
	if err != nil {
		return cfg, err
	}
	cfg.Schema = make(map[string][]string, len(schema.order))
	for _, field := range schema.order {
		n, _, err := schema.lookup(field, true)
		if err != nil {
			return cfg, err
		}
		entry, err := stringList(n, schema.path.key(field))
		if err != nil {
			return cfg, err
		}
		cfg.Schema[field] = entry
	}
	return cfg, nil
}

func decodeModel(f *fields) (ModelConfig, error) {
	var (
		cfg ModelConfig
		err error
	)
	if cfg.Name, err = f.str("name", true, ""); err != nil {
		return cfg, err
	}

	modules, _, err := f.mapping("modules", true)
	if err != nil {
		return cfg, err
	}
	cfg.Modules = make(map[string]ModuleConfig, len(modules.order))
	for _, name := range modules.order {
		module, _, err := modules.mapping(name, true)
		if err != nil {
			return cfg, err
		}
		m, err := decodeModule(module)
		if err != nil {
			return cfg, err
		}
		cfg.Modules[name] = m
	}

	if cfg.NetworkInput, err = f.strings("network_input", true); err != nil {
		return cfg, err
	}
	if cfg.LossInput, err = f.strings("loss_input", true); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeModule(f *fields) (ModuleConfig, error) {
	var (
		cfg ModuleConfig
		err error
	)
	if cfg.Name, err = f.str("name", true, ""); err != nil {
		return cfg, err
	}
	if cfg.ModelCfg, err = f.freeform("model_cfg"); err != nil {
		return cfg, err
	}
	if cfg.BalanceClasses, err = f.boolean("balance_classes", false, false); err != nil {
		return cfg, err
	}
	if cfg.Loss, err = f.str("loss", false, DefaultLoss); err != nil {
		return cfg, err
	}
	if cfg.Reduction, err = f.str("reduction", false, DefaultReduction); err != nil {
		return cfg, err
	}
	if cfg.RemoveCompton, err = f.boolean("remove_compton", false, true); err != nil {
		return cfg, err
	}
	if cfg.ComptonThresh, err = f.integer("compton_thresh", false, DefaultComptonThresh); err != nil {
		return cfg, err
	}
	if cfg.P, err = f.integer("p", false, DefaultMarginP); err != nil {
		return cfg, err
	}
	if cfg.Margin, err = f.float("margin", false, DefaultMargin); err != nil {
		return cfg, err
	}
	if cfg.ModelPath, err = f.str("model_path", false, ""); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeTraining(f *fields) (TrainingConfig, error) {
	var (
		cfg TrainingConfig
		err error
	)
	if cfg.Seed, err = f.integer("seed", false, DefaultSeed); err != nil {
		return cfg, err
	}
	if cfg.LearningRate, err = f.float("learning_rate", true, 0); err != nil {
		return cfg, err
	}
	if cfg.GPUs, err = f.deviceList("gpus"); err != nil {
		return cfg, err
	}
	if cfg.WeightPrefix, err = f.str("weight_prefix", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Iterations, err = f.integer("iterations", true, 0); err != nil {
		return cfg, err
	}
	if cfg.ReportStep, err = f.integer("report_step", true, 0); err != nil {
		return cfg, err
	}
	if cfg.CheckpointStep, err = f.integer("checkpoint_step", true, 0); err != nil {
		return cfg, err
	}
	if cfg.LogDir, err = f.str("log_dir", true, ""); err != nil {
		return cfg, err
	}
	if cfg.ModelPath, err = f.str("model_path", false, ""); err != nil {
		return cfg, err
	}
	if cfg.Train, err = f.boolean("train", false, true); err != nil {
		return cfg, err
	}
	if cfg.Debug, err = f.boolean("debug", false, false); err != nil {
		return cfg, err
	}
	if cfg.MinibatchSize, err = f.integer("minibatch_size", false, FullBatch); err != nil {
		return cfg, err
	}
	return cfg, nil
}
