package boring

import (
	"io"
	"log"
	"testing"

	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
	"github.com/function61/gokit/log/logex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsCoverEverySite(t *testing.T) {
	seen := map[int]bool{}
	for _, site := range intercept.Sites {
		slot, ok := slotOf(site.Symbol)
		require.True(t, ok, site.Symbol)
		assert.Less(t, slot, slotCount)
		assert.False(t, seen[slot], "slot %d reused", slot)
		seen[slot] = true
	}
	_, ok := slotOf(foreign.SymSkNum)
	assert.False(t, ok)
}

func TestInstallMissingComponentIsNoop(t *testing.T) {
	logl := logex.Levels(log.New(io.Discard, "", 0))
	report, err := Install("/nonexistent/libboringssl-test.so", []byte{0xDE, 0xAD}, 1, logl)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, foreign.ErrComponentLoad)
	assert.Nil(t, Active())
}

func TestInstallRejectsEmptyCA(t *testing.T) {
	logl := logex.Levels(log.New(io.Discard, "", 0))
	_, err := Install(foreign.DefaultComponent, nil, 1, logl)
	assert.Error(t, err)
}

func TestUnresolvedCallFails(t *testing.T) {
	_, err := Caller{}.Call(foreign.Handle{Name: foreign.SymSkNum, Sig: foreign.Symbols[foreign.SymSkNum]}, 0)
	assert.Error(t, err)
}
