package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProto(t *testing.T) {
	require.Equal(t, HTTP10, ParseProto("HTTP/1.0"))
	require.Equal(t, HTTP11, ParseProto("HTTP/1.1"))
	require.Equal(t, ProtoUnknown, ParseProto("HTTP/2"))
	require.Equal(t, ProtoUnknown, ParseProto("http/1.1"))
}

func TestKeepAliveByDefault(t *testing.T) {
	require.True(t, HTTP11.KeepAliveByDefault())
	require.False(t, HTTP10.KeepAliveByDefault())
	require.False(t, ProtoUnknown.KeepAliveByDefault())
}
