package status

// HTTPError is an error carrying the status code that should be rendered
// for it, if rendering one is still possible.
type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

var (
	// ErrCloseConnection is a control-flow sentinel ordering the connection
	// to be closed without any further response.
	ErrCloseConnection = NewError(CloseConnection, "actively closing the connection")
	// ErrShutdown is reported by the accept loop when the process is being
	// stopped forcefully.
	ErrShutdown = NewError(CloseConnection, "server is shutting down")
	// ErrGracefulShutdown is reported by the accept loop when a graceful
	// stop was requested.
	ErrGracefulShutdown = NewError(CloseConnection, "graceful shutdown")

	ErrBadRequest              = NewError(BadRequest, "bad request")
	ErrTooLongRequestLine      = NewError(RequestURITooLong, "request line is too long")
	ErrBadChunk                = NewError(BadRequest, "malformed chunk-encoded data")
	ErrMethodNotImplemented    = NewError(NotImplemented, "request method is not supported")
	ErrBodyTooLarge            = NewError(RequestEntityTooLarge, "request body is too large")
	ErrHeaderFieldsTooLarge    = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
	ErrTooManyHeaders          = NewError(RequestHeaderFieldsTooLarge, "too many headers")
	ErrLengthRequired          = NewError(LengthRequired, "length required")
	ErrInternalServerError     = NewError(InternalServerError, "internal server error")
	ErrHTTPVersionNotSupported = NewError(HTTPVersionNotSupported, "HTTP version not supported")
	ErrServiceUnavailable      = NewError(ServiceUnavailable, "service unavailable")
	ErrRequestTimeout          = NewError(RequestTimeout, "request timeout")
)

// CloseConnection is a pseudo-code used by control-flow sentinels only. It
// must never appear on the wire.
const CloseConnection Code = 0

// ErrorCode extracts the response code from an error, falling back to 500
// for errors that carry none.
func ErrorCode(err error) Code {
	if http, ok := err.(HTTPError); ok && http.Code != CloseConnection {
		return http.Code
	}

	return InternalServerError
}
