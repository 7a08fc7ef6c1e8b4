package http

type Proto uint8

const (
	ProtoUnknown Proto = iota
	HTTP10
	HTTP11
)

var protoTokens = map[string]Proto{
	"HTTP/1.0": HTTP10,
	"HTTP/1.1": HTTP11,
}

// ParseProto recognizes an HTTP version token from a request line.
func ParseProto(token string) Proto {
	return protoTokens[token]
}

func (p Proto) String() string {
	switch p {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	default:
		return "HTTP/?"
	}
}

// KeepAliveByDefault reports whether connections are persistent unless the
// peer explicitly asks otherwise.
func (p Proto) KeepAliveByDefault() bool {
	return p == HTTP11
}
