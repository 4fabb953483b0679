package types

// InsertSettings collects the optional knobs of the insert paths.
type InsertSettings struct {
	// ColumnTypes maps field names to explicit SQL types used when
	// auto-provisioning missing columns. Hints take precedence over
	// value-based inference.
	ColumnTypes map[string]string

	// InferTypes enables value-based type inference for auto-provisioned
	// columns. When false and no hint is given, new columns are TEXT.
	InferTypes bool
}

// InsertOption mutates InsertSettings.
type InsertOption func(*InsertSettings)

// NewInsertSettings applies opts over the defaults (inference enabled).
func NewInsertSettings(opts ...InsertOption) InsertSettings {
	s := InsertSettings{InferTypes: true}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithColumnTypes supplies explicit SQL types for auto-provisioned columns.
func WithColumnTypes(columnTypes map[string]string) InsertOption {
	return func(s *InsertSettings) { s.ColumnTypes = columnTypes }
}

// WithoutTypeInference forces auto-provisioned columns without an explicit
// hint to the textual default.
func WithoutTypeInference() InsertOption {
	return func(s *InsertSettings) { s.InferTypes = false }
}
