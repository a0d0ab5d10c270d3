package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralink/internal/endpoint"
	"github.com/jroosing/hydralink/internal/socketreg"
)

func TestSocketInitWildcardBindsV4AndV6ToSamePort(t *testing.T) {
	sock4, sock6, err := SocketInit(0)
	if err != nil {
		t.Skipf("socket binding unavailable in this sandbox: %v", err)
	}
	defer socketreg.DrainAndClose(sock4)
	defer socketreg.DrainAndClose(sock6)

	port4, ok4 := portOf(sock4)
	port6, ok6 := portOf(sock6)
	require.True(t, ok4)
	require.True(t, ok6)
	assert.Equal(t, port4, port6)
	assert.NotZero(t, port4)
}

func TestSocketInitExplicitPortCollisionIsNotRetried(t *testing.T) {
	held4, err := CreateAndBindSocket(endpoint.FamilyV4, 0)
	if err != nil {
		t.Skipf("socket binding unavailable in this sandbox: %v", err)
	}
	defer socketreg.DrainAndClose(held4)

	port, ok := portOf(held4)
	require.True(t, ok)

	_, _, err = SocketInit(port)
	assert.ErrorIs(t, err, ErrAddressInUse)
}
