package hrqa

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("hrqa: document not found")

	// ErrDocumentExists is returned when trying to ingest a duplicate path.
	ErrDocumentExists = errors.New("hrqa: document already exists")

	// ErrUnsupportedFormat is returned for unrecognized or legacy file formats.
	ErrUnsupportedFormat = errors.New("hrqa: unsupported document format")

	// ErrCorruptFile is returned when a file cannot be decoded in any of the
	// attempted encodings, or a parser cannot make sense of its bytes.
	ErrCorruptFile = errors.New("hrqa: corrupt or unreadable file")

	// ErrEmptyDocument is returned when extraction yields no usable text.
	ErrEmptyDocument = errors.New("hrqa: document contains no extractable text")

	// ErrEmbeddingUnavailable is returned when the embedding provider cannot
	// be reached; callers should treat this as retriable.
	ErrEmbeddingUnavailable = errors.New("hrqa: embedding provider unavailable")

	// ErrInputTooLong is returned when text exceeds the embedding model's
	// input token budget.
	ErrInputTooLong = errors.New("hrqa: input exceeds embedding token budget")

	// ErrLLMUnavailable is returned when the LLM service is unreachable.
	ErrLLMUnavailable = errors.New("hrqa: LLM service unavailable")

	// ErrLLMRequestFailed is returned when an LLM request fails after retries.
	ErrLLMRequestFailed = errors.New("hrqa: LLM request failed")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("hrqa: store is closed")

	// ErrStoreFailed is returned when a store operation behind an Engine
	// method (upload, delete, list) fails.
	ErrStoreFailed = errors.New("hrqa: store operation failed")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("hrqa: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("hrqa: invalid configuration")

	// ErrInputInvalid is returned for a malformed public entry-point argument.
	ErrInputInvalid = errors.New("hrqa: invalid input")

	// ErrDeadlineExceeded is returned when ingestion exceeds its hard deadline.
	ErrDeadlineExceeded = errors.New("hrqa: ingestion deadline exceeded")
)
