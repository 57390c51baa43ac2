package trainconfig

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads and validates training configuration documents.
type Loader struct {
	logger          *zap.Logger
	checkPaths      bool
	strictBatchSize bool
	statDir         func(string) (os.FileInfo, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for warnings about the document.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPathCheck enables eager existence checks for iotool.dataset.data_dirs.
func WithPathCheck(enabled bool) Option {
	return func(l *Loader) {
		l.checkPaths = enabled
	}
}

// WithStrictBatchSize rejects documents whose sampler batch size differs from
// iotool.batch_size instead of only warning about it.
func WithStrictBatchSize(enabled bool) Option {
	return func(l *Loader) {
		l.strictBatchSize = enabled
	}
}

// WithStat overrides the filesystem lookup used by the path check (primarily for tests).
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(l *Loader) {
		l.statDir = stat
	}
}

// NewLoader constructs a Loader. Without options it performs no filesystem access.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		logger:  zap.NewNop(),
		statDir: os.Stat,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the document at path.
func (l *Loader) Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc, err := l.Parse(data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("training configuration loaded",
		zap.String("path", path),
		zap.String("model", doc.Model.Name),
		zap.Int("iterations", doc.Training.Iterations),
	)
	return doc, nil
}

// Parse decodes and validates a YAML document. Structural problems (missing
// keys, wrong types) stop decoding at the first offence; semantic problems are
// collected and returned together. No document is returned on error.
func (l *Loader) Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	doc, err := decodeDocument(&root)
	if err != nil {
		return nil, err
	}

	if err := validate(doc, validateOptions{
		checkPaths:      l.checkPaths,
		strictBatchSize: l.strictBatchSize,
		statDir:         l.statDir,
	}); err != nil {
		return nil, err
	}

	for _, w := range doc.Lint() {
		l.logger.Warn(w.Message, zap.String("path", w.Path))
	}
	return doc, nil
}

// Load reads and validates the document at path with default options.
func Load(path string) (*Document, error) {
	return NewLoader().Load(path)
}

// Parse decodes and validates data with default options.
func Parse(data []byte) (*Document, error) {
	return NewLoader().Parse(data)
}
