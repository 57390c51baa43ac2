// Package trainconfig loads the YAML document that configures a graph neural
// network training run: the data pipeline (iotool), the model and its modules
// (model), and the training driver (training).
//
// Decoding is strict about key names and value types and reports the offending
// key path (for example iotool.dataset.data_dirs[0]). Component identifiers are
// not resolved here; see package registry.
package trainconfig
