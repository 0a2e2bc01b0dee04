package extractor

import "errors"

var (
	// ErrUnsupportedFormat is returned for formats no extractor handles.
	ErrUnsupportedFormat = errors.New("extractor: unsupported document format")

	// ErrCorruptFile is returned when a file's bytes cannot be parsed or
	// decoded under any of the attempted encodings.
	ErrCorruptFile = errors.New("extractor: corrupt or unreadable file")

	// ErrIO is returned when the file cannot be read at all.
	ErrIO = errors.New("extractor: reading file failed")

	// ErrEmptyText is returned when extraction succeeds but yields only
	// whitespace.
	ErrEmptyText = errors.New("extractor: document contains no extractable text")
)
