package stack

import (
	"errors"
	"testing"

	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/foreign/foreigntest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReader(t *testing.T, lib *foreigntest.Library) *Reader {
	t.Helper()
	r, err := NewReader(lib, lib)
	require.NoError(t, err)
	return r
}

func TestChainPreservesOrder(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib")
	r := newReader(t, lib)
	want := [][]byte{{0x01}, {0xDE, 0xAD}, {0xFF, 0xFF, 0xFF}}
	sess := lib.Session(want)

	chain, err := r.Chain(sess)
	require.NoError(t, err)
	assert.Equal(t, want, chain)
	assert.Equal(t, 3, lib.Calls(foreign.SymSkValue))
}

func TestChainEmpty(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib")
	r := newReader(t, lib)

	chain, err := r.Chain(lib.Session([][]byte{}))
	require.NoError(t, err)
	assert.Empty(t, chain)
	assert.Zero(t, lib.Calls(foreign.SymSkValue))

	// NULL stack: the peer sent nothing.
	chain, err = r.Chain(lib.Session(nil))
	require.NoError(t, err)
	assert.Empty(t, chain)
	assert.Equal(t, 1, lib.Calls(foreign.SymSkNum))
}

func TestChainCopiesBuffers(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib")
	r := newReader(t, lib)
	sess := lib.Session([][]byte{{0xAA, 0xBB}})

	first, err := r.Chain(sess)
	require.NoError(t, err)
	first[0][0] = 0x00

	second, err := r.Chain(sess)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, second[0])
}

func TestZeroLengthBufferSkipsData(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib")
	r := newReader(t, lib)

	chain, err := r.Chain(lib.Session([][]byte{{}}))
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Empty(t, chain[0])
	assert.Zero(t, lib.Calls(foreign.SymBufferData))
}

func TestNewReaderMissingAccessor(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib", foreign.SymBufferData)
	_, err := NewReader(lib, lib)
	require.Error(t, err)
	assert.ErrorIs(t, err, foreign.ErrNotFound)
	assert.Contains(t, err.Error(), foreign.SymBufferData)
}

func TestExtractionFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*foreigntest.Library)
	}{
		{"accessor error", func(l *foreigntest.Library) { l.Fail[foreign.SymBufferLen] = errors.New("EFAULT") }},
		{"accessor panic", func(l *foreigntest.Library) { l.Panic[foreign.SymSkValue] = true }},
		{"null data", func(l *foreigntest.Library) { l.NullData = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := foreigntest.New("libboringssl.dylib")
			r := newReader(t, lib)
			sess := lib.Session([][]byte{{0xDE, 0xAD}})
			tt.setup(lib)

			chain, err := r.Chain(sess)
			require.Error(t, err)
			assert.Nil(t, chain)
			assert.ErrorIs(t, err, foreign.ErrExtraction)
		})
	}
}

func TestNullSession(t *testing.T) {
	lib := foreigntest.New("libboringssl.dylib")
	r := newReader(t, lib)
	_, err := r.Chain(0)
	assert.ErrorIs(t, err, foreign.ErrExtraction)
}
