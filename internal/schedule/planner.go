package schedule

import (
	"fmt"
	"iter"
	"math"

	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

const defaultMaxListed = 1000

type stepPlanner struct {
	maxListed int
}

// New creates a Planner that lists at most 1000 checkpoint iterations.
func New() Planner {
	return &stepPlanner{maxListed: defaultMaxListed}
}

// NewWithLimit creates a Planner listing at most maxListed checkpoint iterations.
func NewWithLimit(maxListed int) Planner {
	if maxListed <= 0 {
		maxListed = defaultMaxListed
	}
	return &stepPlanner{maxListed: maxListed}
}

func (p *stepPlanner) Plan(training trainconfig.TrainingConfig, batchSize int) (Plan, error) {
	if training.Iterations <= 0 {
		return Plan{}, ErrInvalidIterations
	}
	if training.ReportStep <= 0 || training.CheckpointStep <= 0 {
		return Plan{}, ErrInvalidStep
	}
	if batchSize <= 0 {
		return Plan{}, ErrInvalidBatch
	}
	devices, err := training.Devices()
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	perDevice := batchSize
	if len(devices) > 0 {
		if batchSize%len(devices) != 0 {
			return Plan{}, ErrInvalidBatch
		}
		perDevice = batchSize / len(devices)
	}

	minibatch := training.EffectiveMinibatch(batchSize)
	plan := Plan{
		Iterations:           training.Iterations,
		ReportStep:           training.ReportStep,
		CheckpointStep:       training.CheckpointStep,
		ReportCount:          training.Iterations / training.ReportStep,
		CheckpointCount:      training.Iterations / training.CheckpointStep,
		CleanFinalCheckpoint: training.Iterations%training.CheckpointStep == 0,
		BatchSize:            batchSize,
		MinibatchDisabled:    training.MinibatchDisabled(),
		Minibatch:            minibatch,
		AccumulationSteps:    (batchSize + minibatch - 1) / minibatch,
		Devices:              devices,
		PerDeviceBatch:       perDevice,
		SamplesSeen:          samplesSeen(training.Iterations, batchSize),
		Train:                training.Train,
		ResumeFrom:           training.ModelPath,
		weightPrefix:         training.WeightPrefix,
	}

	listed := min(plan.CheckpointCount, p.maxListed)
	plan.CheckpointsTruncated = listed < plan.CheckpointCount
	plan.CheckpointIterations = make([]int, 0, listed)
	plan.WeightFiles = make([]string, 0, listed)
	for k := 1; k <= listed; k++ {
		iteration := k*training.CheckpointStep - 1
		plan.CheckpointIterations = append(plan.CheckpointIterations, iteration)
		plan.WeightFiles = append(plan.WeightFiles, WeightFile(training.WeightPrefix, iteration))
	}
	return plan, nil
}

// WeightFile names the checkpoint written after the 0-based iteration.
func WeightFile(prefix string, iteration int) string {
	return fmt.Sprintf("%s-%d.ckpt", prefix, iteration)
}

// Events yields every step at which the run reports or checkpoints, in order.
// Only event steps are visited, so the cost is proportional to the number of
// events consumed rather than to the iteration count.
func (p Plan) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if p.ReportStep <= 0 || p.CheckpointStep <= 0 {
			return
		}
		nextReport, reportLeft := p.ReportStep, p.ReportStep <= p.Iterations
		nextCheckpoint, checkpointLeft := p.CheckpointStep, p.CheckpointStep <= p.Iterations

		for reportLeft || checkpointLeft {
			var step int
			switch {
			case reportLeft && checkpointLeft:
				step = min(nextReport, nextCheckpoint)
			case reportLeft:
				step = nextReport
			default:
				step = nextCheckpoint
			}

			report := reportLeft && nextReport == step
			checkpoint := checkpointLeft && nextCheckpoint == step
			ev := Event{Step: step, Iteration: step - 1, Report: report, Checkpoint: checkpoint}
			if checkpoint {
				ev.WeightFile = WeightFile(p.weightPrefix, step-1)
			}
			if !yield(ev) {
				return
			}

			if report {
				nextReport, reportLeft = p.advance(nextReport, p.ReportStep)
			}
			if checkpoint {
				nextCheckpoint, checkpointLeft = p.advance(nextCheckpoint, p.CheckpointStep)
			}
		}
	}
}

// advance returns the next multiple of stride after step, and false once it
// would pass the final iteration. It never overflows.
func (p Plan) advance(step, stride int) (int, bool) {
	if step > p.Iterations-stride {
		return 0, false
	}
	return step + stride, true
}

// samplesSeen multiplies iterations by batch size, saturating at math.MaxInt64.
func samplesSeen(iterations, batchSize int) int64 {
	if int64(iterations) > math.MaxInt64/int64(batchSize) {
		return math.MaxInt64
	}
	return int64(iterations) * int64(batchSize)
}
