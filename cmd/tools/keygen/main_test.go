package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/auth"
)

func TestRun_RequiresUser(t *testing.T) {
	var out bytes.Buffer
	err := run(nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")
}

func TestNewRawKey_FormatAndUniqueness(t *testing.T) {
	a, err := newRawKey()
	require.NoError(t, err)
	b, err := newRawKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "pm_"))
	assert.Len(t, a, len("pm_")+64)
	assert.NotEqual(t, a, b)
}

func TestNewRawKey_HashesWithAuthScheme(t *testing.T) {
	raw, err := newRawKey()
	require.NoError(t, err)

	hash := auth.HashKey(raw)
	assert.Len(t, hash, 64)
	assert.NotContains(t, hash, "pm_")
}
