package trainconfig

import "fmt"

// Warning describes a legal but suspicious setting.
type Warning struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

// Lint reports settings that load fine but usually indicate a mistake.
func (d *Document) Lint() []Warning {
	var out []Warning
	for _, key := range d.UnknownKeys {
		out = append(out, Warning{Path: key, Message: "unknown key is ignored by consumers"})
	}

	if outer, sampler, drifted := d.BatchSizeDrift(); drifted {
		out = append(out, Warning{
			Path:    "iotool.sampler.batch_size",
			Message: fmt.Sprintf("sampler batch size %d differs from iotool.batch_size %d", sampler, outer),
		})
	}

	t := d.Training
	if t.CheckpointStep > 0 && t.Iterations%t.CheckpointStep != 0 {
		out = append(out, Warning{
			Path: "training.checkpoint_step",
			Message: fmt.Sprintf("iterations %d is not a multiple of checkpoint_step %d; the last %d steps are never checkpointed",
				t.Iterations, t.CheckpointStep, t.Iterations%t.CheckpointStep),
		})
	}
	if !t.MinibatchDisabled() && t.MinibatchSize > 0 && d.IOTool.BatchSize%t.MinibatchSize != 0 {
		out = append(out, Warning{
			Path:    "training.minibatch_size",
			Message: fmt.Sprintf("minibatch size %d does not divide iotool.batch_size %d", t.MinibatchSize, d.IOTool.BatchSize),
		})
	}
	if !t.Train && !t.HasPretrainedWeights() {
		out = append(out, Warning{
			Path:    "training.model_path",
			Message: "inference run without model_path uses untrained weights",
		})
	}
	return out
}
