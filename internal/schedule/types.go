package schedule

import "github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"

// Plan summarises what a training run configured by a document will do.
// Steps are 1-based; Iteration values are the 0-based indices the training
// driver uses when naming checkpoint files.
type Plan struct {
	Iterations           int      `json:"iterations" yaml:"iterations"`
	ReportStep           int      `json:"reportStep" yaml:"report_step"`
	CheckpointStep       int      `json:"checkpointStep" yaml:"checkpoint_step"`
	ReportCount          int      `json:"reportCount" yaml:"report_count"`
	CheckpointCount      int      `json:"checkpointCount" yaml:"checkpoint_count"`
	CheckpointIterations []int    `json:"checkpointIterations" yaml:"checkpoint_iterations"`
	WeightFiles          []string `json:"weightFiles" yaml:"weight_files"`
	CheckpointsTruncated bool     `json:"checkpointsTruncated,omitempty" yaml:"checkpoints_truncated,omitempty"`
	CleanFinalCheckpoint bool     `json:"cleanFinalCheckpoint" yaml:"clean_final_checkpoint"`
	BatchSize            int      `json:"batchSize" yaml:"batch_size"`
	MinibatchDisabled    bool     `json:"minibatchDisabled" yaml:"minibatch_disabled"`
	Minibatch            int      `json:"minibatch" yaml:"minibatch"`
	AccumulationSteps    int      `json:"accumulationSteps" yaml:"accumulation_steps"`
	Devices              []int    `json:"devices" yaml:"devices"`
	PerDeviceBatch       int      `json:"perDeviceBatch" yaml:"per_device_batch"`
	SamplesSeen          int64    `json:"samplesSeen" yaml:"samples_seen"`
	Train                bool     `json:"train" yaml:"train"`
	ResumeFrom           string   `json:"resumeFrom,omitempty" yaml:"resume_from,omitempty"`

	weightPrefix string
}

// Event is a step at which the training driver reports, checkpoints, or both.
type Event struct {
	Step       int    `json:"step" yaml:"step"`
	Iteration  int    `json:"iteration" yaml:"iteration"`
	Report     bool   `json:"report" yaml:"report"`
	Checkpoint bool   `json:"checkpoint" yaml:"checkpoint"`
	WeightFile string `json:"weightFile,omitempty" yaml:"weight_file,omitempty"`
}

// Planner describes the behaviour required from a schedule planner.
type Planner interface {
	Plan(training trainconfig.TrainingConfig, batchSize int) (Plan, error)
}
