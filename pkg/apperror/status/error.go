package status

// ErrorCode is a numeric code to classify API errors in a stable way
type ErrorCode int

// Reserved ranges by domain:
//   0-999:     request shape
//   1000-1999: vector store
//   2000-2999: retrieval and relevance evaluation
//   3000-3999: items
//   4000-4999: ingest
// Within a domain, *000-*499 are client errors and *500-*999 internal ones.

const (
	InvalidRequestBody ErrorCode = iota // 0
	MissingParams                       // 1
	InvalidQueryParams                  // 2
)

// Vector store
const (
	CollectionNotFound   ErrorCode = 1000 + iota // 1000
	DocumentNotFound                             // 1001
	InvalidDocument                              // 1002
	InvalidVectorRequest                         // 1003
)

const (
	VectorStoreUnavailable ErrorCode = 1500 + iota // 1500
	VectorStoreFailed                              // 1501
)

// Retrieval
const (
	RetrieverEmptyQuery       ErrorCode = 2000 + iota // 2000
	RetrieverInvalidThreshold                         // 2001
	RetrieverInvalidStrategy                          // 2002
)

const (
	RetrieverEmbeddingFailed ErrorCode = 2500 + iota // 2500
	RetrieverSearchFailed                            // 2501
)

// Items
const (
	ItemNotFound ErrorCode = 3000 + iota // 3000
	ItemInvalid                          // 3001
)

const (
	ItemStoreFailed ErrorCode = 3500 // 3500
)

// Ingest
const (
	IngestInvalidSource ErrorCode = 4000 + iota // 4000
	IngestEmptySource                           // 4001
)

const (
	IngestFailed ErrorCode = 4500 // 4500
)

const (
	ErrorCodeInternal ErrorCode = 9000
)

// CodedError represents an error with an associated ErrorCode
type CodedError interface {
	error
	ErrorCode() ErrorCode
}

type codedError struct {
	code ErrorCode
	err  error
}

func (e codedError) Error() string        { return e.err.Error() }
func (e codedError) Unwrap() error        { return e.err }
func (e codedError) ErrorCode() ErrorCode { return e.code }

// New creates a new CodedError with the given code and underlying error
func New(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return codedError{code: code, err: err}
}
