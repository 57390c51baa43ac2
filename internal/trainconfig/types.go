package trainconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// FullBatch is the minibatch_size sentinel meaning "use the full batch".
const FullBatch = -1

// Supported loss identifiers for edge modules.
const (
	LossCrossEntropy = "CE"
	LossMultiMargin  = "MM"
)

// Module defaults applied when the keys are absent.
const (
	DefaultLoss          = LossCrossEntropy
	DefaultReduction     = "mean"
	DefaultComptonThresh = 30
	DefaultMarginP       = 1
	DefaultMargin        = 1.0
	DefaultSeed          = -1
)

// Document is a fully decoded training configuration.
type Document struct {
	IOTool   IOToolConfig   `yaml:"iotool" json:"iotool"`
	Model    ModelConfig    `yaml:"model" json:"model"`
	Training TrainingConfig `yaml:"training" json:"training"`

	// UnknownKeys lists key paths present in the source but not in the schema.
	UnknownKeys []string `yaml:"-" json:"-"`
}

// IOToolConfig configures the external data pipeline.
type IOToolConfig struct {
	BatchSize  int            `yaml:"batch_size" json:"batch_size"`
	Shuffle    bool           `yaml:"shuffle" json:"shuffle"`
	NumWorkers int            `yaml:"num_workers" json:"num_workers"`
	CollateFn  string         `yaml:"collate_fn" json:"collate_fn"`
	Sampler    *SamplerConfig `yaml:"sampler,omitempty" json:"sampler,omitempty"`
	Dataset    DatasetConfig  `yaml:"dataset" json:"dataset"`
}

// SamplerConfig names the batch sampler and its batch size.
type SamplerConfig struct {
	Name      string `yaml:"name" json:"name"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// DatasetConfig names the dataset implementation and its inputs.
type DatasetConfig struct {
	Name          string              `yaml:"name" json:"name"`
	DataDirs      []string            `yaml:"data_dirs" json:"data_dirs"`
	DataKey       string              `yaml:"data_key" json:"data_key"`
	LimitNumFiles int                 `yaml:"limit_num_files" json:"limit_num_files"`
	Schema        map[string][]string `yaml:"schema" json:"schema"`
}

// Parser splits the schema entry for field into its parser function and source tensors.
func (d DatasetConfig) Parser(field string) (parser string, sources []string, ok bool) {
	entry, found := d.Schema[field]
	if !found || len(entry) == 0 {
		return "", nil, false
	}
	sources = make([]string, len(entry)-1)
	copy(sources, entry[1:])
	return entry[0], sources, true
}

// ModelConfig selects the model and the fields bound to its inputs.
type ModelConfig struct {
	Name         string                  `yaml:"name" json:"name"`
	Modules      map[string]ModuleConfig `yaml:"modules" json:"modules"`
	NetworkInput []string                `yaml:"network_input" json:"network_input"`
	LossInput    []string                `yaml:"loss_input" json:"loss_input"`
}

// ModuleConfig configures one named sub-module of the model.
type ModuleConfig struct {
	Name           string         `yaml:"name" json:"name"`
	ModelCfg       map[string]any `yaml:"model_cfg" json:"model_cfg"`
	BalanceClasses bool           `yaml:"balance_classes" json:"balance_classes"`
	Loss           string         `yaml:"loss" json:"loss"`
	Reduction      string         `yaml:"reduction" json:"reduction"`
	RemoveCompton  bool           `yaml:"remove_compton" json:"remove_compton"`
	ComptonThresh  int            `yaml:"compton_thresh" json:"compton_thresh"`
	P              int            `yaml:"p" json:"p"`
	Margin         float64        `yaml:"margin" json:"margin"`
	ModelPath      string         `yaml:"model_path" json:"model_path"`
}

// HasPretrainedWeights reports whether the module loads weights from model_path.
func (m ModuleConfig) HasPretrainedWeights() bool {
	return m.ModelPath != ""
}

// TrainingConfig drives the external training loop.
type TrainingConfig struct {
	Seed           int     `yaml:"seed" json:"seed"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	GPUs           string  `yaml:"gpus" json:"gpus"`
	WeightPrefix   string  `yaml:"weight_prefix" json:"weight_prefix"`
	Iterations     int     `yaml:"iterations" json:"iterations"`
	ReportStep     int     `yaml:"report_step" json:"report_step"`
	CheckpointStep int     `yaml:"checkpoint_step" json:"checkpoint_step"`
	LogDir         string  `yaml:"log_dir" json:"log_dir"`
	ModelPath      string  `yaml:"model_path" json:"model_path"`
	Train          bool    `yaml:"train" json:"train"`
	Debug          bool    `yaml:"debug" json:"debug"`
	MinibatchSize  int     `yaml:"minibatch_size" json:"minibatch_size"`
}

// MinibatchDisabled reports whether minibatching is turned off by the -1 sentinel.
func (t TrainingConfig) MinibatchDisabled() bool {
	return t.MinibatchSize == FullBatch
}

// EffectiveMinibatch returns the number of samples per optimiser sub-step.
// The sentinel never leaks out as a negative size.
func (t TrainingConfig) EffectiveMinibatch(batchSize int) int {
	if t.MinibatchDisabled() || t.MinibatchSize <= 0 {
		return batchSize
	}
	return t.MinibatchSize
}

// HasPretrainedWeights reports whether training resumes from model_path.
func (t TrainingConfig) HasPretrainedWeights() bool {
	return t.ModelPath != ""
}

// Devices parses gpus into device ordinals. An empty value means CPU only.
func (t TrainingConfig) Devices() ([]int, error) {
	raw := strings.TrimSpace(t.GPUs)
	if raw == "" {
		return []int{}, nil
	}
	parts := strings.Split(raw, ",")
	devices := make([]int, 0, len(parts))
	seen := make(map[int]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q", part)
		}
		if id < 0 {
			return nil, fmt.Errorf("device id must be non-negative, got %d", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate device id %d", id)
		}
		seen[id] = struct{}{}
		devices = append(devices, id)
	}
	return devices, nil
}

// BatchSizeDrift compares the loader batch size with the sampler's.
// drifted is false when no sampler is configured.
func (d *Document) BatchSizeDrift() (outer, sampler int, drifted bool) {
	outer = d.IOTool.BatchSize
	if d.IOTool.Sampler == nil {
		return outer, outer, false
	}
	sampler = d.IOTool.Sampler.BatchSize
	return outer, sampler, outer != sampler
}
