package adapter

import "errors"

// ErrTransport wraps network-level failures (connection refused, DNS,
// TLS) and non-2xx HTTP responses from a remote adapter's submit/poll/
// result sequence. Adapters report it only as the text of
// ComponentResult.Error; the workflow coordinator's retry loop keys on
// workflow.ErrTransport, not on this value.
var ErrTransport = errors.New("adapter transport error")

// ErrTimeout indicates the submit+poll+result sequence exceeded its
// configured RequestTimeout. Like ErrTransport, adapters report it only
// as the text of ComponentResult.Error.
var ErrTimeout = errors.New("adapter request timeout")

// ErrProtocol indicates a remote adapter received a response that
// does not match the expected shape (missing jobId, malformed
// status). It is returned on the first such response; nothing in this
// package retries the request.
var ErrProtocol = errors.New("adapter protocol error")
