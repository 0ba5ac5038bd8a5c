package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsBlockedIP(t *testing.T) {
	require.True(t, IsBlockedIP(net.ParseIP("127.0.0.1")))
	require.True(t, IsBlockedIP(net.ParseIP("10.0.0.5")))
	require.True(t, IsBlockedIP(net.ParseIP("192.168.1.1")))
	require.True(t, IsBlockedIP(net.ParseIP("172.16.0.1")))
	require.True(t, IsBlockedIP(net.ParseIP("172.31.255.255")))
	require.True(t, IsBlockedIP(net.ParseIP("169.254.0.1")))

	require.False(t, IsBlockedIP(net.ParseIP("8.8.8.8")))
	require.False(t, IsBlockedIP(net.ParseIP("1.1.1.1")))
	require.False(t, IsBlockedIP(net.ParseIP("172.32.0.1")))
}

func TestValidateURLRejectsLoopback(t *testing.T) {
	require.Error(t, ValidateURL("http://127.0.0.1:8080/x"))
}

func TestValidateURLBypassFlag(t *testing.T) {
	t.Setenv(AllowInternalIPsEnv, "true")
	require.NoError(t, ValidateURL("http://127.0.0.1:8080/x"))
}

func TestValidateHostPortRejectsPrivateRange(t *testing.T) {
	require.Error(t, ValidateHostPort("10.1.2.3", 22))
	require.NoError(t, ValidateHostPort("8.8.8.8", 22))
}
