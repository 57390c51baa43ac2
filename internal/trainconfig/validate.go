package trainconfig

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/multierr"
)

var (
	knownLosses     = map[string]struct{}{LossCrossEntropy: {}, LossMultiMargin: {}}
	knownReductions = map[string]struct{}{"mean": {}, "sum": {}, "none": {}}
)

type validateOptions struct {
	checkPaths      bool
	strictBatchSize bool
	statDir         func(string) (os.FileInfo, error)
}

// validate checks value ranges and cross-field invariants. Every violation is
// reported; the result combines them with multierr.
func validate(doc *Document, opts validateOptions) error {
	var err error
	err = multierr.Append(err, validateIOTool(doc.IOTool, opts))
	err = multierr.Append(err, validateModel(doc.Model, doc.IOTool.Dataset.Schema))
	err = multierr.Append(err, validateTraining(doc.Training, doc.IOTool.BatchSize))
	return err
}

func validateIOTool(cfg IOToolConfig, opts validateOptions) error {
	var err error
	if cfg.BatchSize <= 0 {
		err = multierr.Append(err, constraint("iotool.batch_size", "must be positive, got %d", cfg.BatchSize))
	}
	if cfg.NumWorkers < 0 {
		err = multierr.Append(err, constraint("iotool.num_workers", "must be non-negative, got %d", cfg.NumWorkers))
	}
	if cfg.Sampler != nil {
		if cfg.Sampler.Name == "" {
			err = multierr.Append(err, constraint("iotool.sampler.name", "must not be empty"))
		}
		if cfg.Sampler.BatchSize <= 0 {
			err = multierr.Append(err, constraint("iotool.sampler.batch_size", "must be positive, got %d", cfg.Sampler.BatchSize))
		} else if opts.strictBatchSize && cfg.Sampler.BatchSize != cfg.BatchSize {
			err = multierr.Append(err, constraint("iotool.sampler.batch_size",
				"must equal iotool.batch_size (%d), got %d", cfg.BatchSize, cfg.Sampler.BatchSize))
		}
	}

	ds := cfg.Dataset
	if ds.Name == "" {
		err = multierr.Append(err, constraint("iotool.dataset.name", "must not be empty"))
	}
	if len(ds.DataDirs) == 0 {
		err = multierr.Append(err, constraint("iotool.dataset.data_dirs", "must list at least one directory"))
	}
	for i, dir := range ds.DataDirs {
		path := keyPath("iotool.dataset.data_dirs").index(i).String()
		if dir == "" {
			err = multierr.Append(err, constraint(path, "must not be empty"))
			continue
		}
		if opts.checkPaths {
			err = multierr.Append(err, checkDir(path, dir, opts.statDir))
		}
	}
	if ds.LimitNumFiles < 0 {
		err = multierr.Append(err, constraint("iotool.dataset.limit_num_files", "must be non-negative, got %d", ds.LimitNumFiles))
	}
	if len(ds.Schema) == 0 {
		err = multierr.Append(err, constraint("iotool.dataset.schema", "must define at least one field"))
	}
	for _, field := range sortedKeys(ds.Schema) {
		if len(ds.Schema[field]) == 0 {
			err = multierr.Append(err, constraint("iotool.dataset.schema."+field, "must name a parser"))
		}
	}
	return err
}

func checkDir(path, dir string, stat func(string) (os.FileInfo, error)) error {
	if stat == nil {
		stat = os.Stat
	}
	info, statErr := stat(dir)
	if statErr != nil {
		return &InvalidPathError{Path: path, Dir: dir, Err: statErr}
	}
	if !info.IsDir() {
		return &InvalidPathError{Path: path, Dir: dir, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

func validateModel(cfg ModelConfig, schema map[string][]string) error {
	var err error
	if cfg.Name == "" {
		err = multierr.Append(err, constraint("model.name", "must not be empty"))
	}
	if len(cfg.Modules) == 0 {
		err = multierr.Append(err, constraint("model.modules", "must define at least one module"))
	}
	for _, name := range sortedKeys(cfg.Modules) {
		m := cfg.Modules[name]
		base := "model.modules." + name
		if m.Name == "" {
			err = multierr.Append(err, constraint(base+".name", "must not be empty"))
		}
		if _, ok := knownLosses[m.Loss]; !ok {
			err = multierr.Append(err, constraint(base+".loss", "unrecognized loss %q (want CE or MM)", m.Loss))
		}
		if _, ok := knownReductions[m.Reduction]; !ok {
			err = multierr.Append(err, constraint(base+".reduction", "unrecognized reduction %q (want mean, sum or none)", m.Reduction))
		}
		if m.ComptonThresh < 0 {
			err = multierr.Append(err, constraint(base+".compton_thresh", "must be non-negative, got %d", m.ComptonThresh))
		}
		if m.Loss == LossMultiMargin {
			if m.P != 1 && m.P != 2 {
				err = multierr.Append(err, constraint(base+".p", "must be 1 or 2, got %d", m.P))
			}
			if m.Margin <= 0 {
				err = multierr.Append(err, constraint(base+".margin", "must be positive, got %g", m.Margin))
			}
		}
	}
	err = multierr.Append(err, validateInputs("model.network_input", cfg.NetworkInput, schema))
	err = multierr.Append(err, validateInputs("model.loss_input", cfg.LossInput, schema))
	return err
}

func validateInputs(base string, inputs []string, schema map[string][]string) error {
	var err error
	if len(inputs) == 0 {
		return constraint(base, "must list at least one field")
	}
	for i, field := range inputs {
		if _, ok := schema[field]; !ok {
			err = multierr.Append(err, constraint(keyPath(base).index(i).String(),
				"field %q is not defined in iotool.dataset.schema", field))
		}
	}
	return err
}

func validateTraining(cfg TrainingConfig, batchSize int) error {
	var err error
	if cfg.LearningRate <= 0 {
		err = multierr.Append(err, constraint("training.learning_rate", "must be positive, got %g", cfg.LearningRate))
	}
	devices, devErr := cfg.Devices()
	if devErr != nil {
		err = multierr.Append(err, constraint("training.gpus", "%v", devErr))
	} else if len(devices) > 0 && batchSize > 0 && batchSize%len(devices) != 0 {
		err = multierr.Append(err, constraint("training.gpus",
			"iotool.batch_size %d is not divisible across %d devices", batchSize, len(devices)))
	}
	if cfg.WeightPrefix == "" {
		err = multierr.Append(err, constraint("training.weight_prefix", "must not be empty"))
	}
	if cfg.LogDir == "" {
		err = multierr.Append(err, constraint("training.log_dir", "must not be empty"))
	}
	if cfg.Iterations <= 0 {
		err = multierr.Append(err, constraint("training.iterations", "must be positive, got %d", cfg.Iterations))
	}
	err = multierr.Append(err, validateStep("training.report_step", cfg.ReportStep, cfg.Iterations))
	err = multierr.Append(err, validateStep("training.checkpoint_step", cfg.CheckpointStep, cfg.Iterations))

	switch {
	case cfg.MinibatchSize == FullBatch:
	case cfg.MinibatchSize <= 0:
		err = multierr.Append(err, constraint("training.minibatch_size",
			"must be positive or %d to disable, got %d", FullBatch, cfg.MinibatchSize))
	case batchSize > 0 && cfg.MinibatchSize > batchSize:
		err = multierr.Append(err, constraint("training.minibatch_size",
			"must not exceed iotool.batch_size (%d), got %d", batchSize, cfg.MinibatchSize))
	}
	return err
}

func validateStep(path string, step, iterations int) error {
	if step <= 0 {
		return constraint(path, "must be positive, got %d", step)
	}
	if iterations > 0 && step > iterations {
		return constraint(path, "must not exceed training.iterations (%d), got %d", iterations, step)
	}
	return nil
}

func constraint(path, format string, args ...any) error {
	return &ConstraintError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
