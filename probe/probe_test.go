package probe

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"carnotengine/tls-override/foreign"
	"github.com/cilium/ebpf/asm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status map[string]string
	counts map[string]uint64
	err    error
}

func (f *fakeSource) Status() map[string]string { return f.status }

func (f *fakeSource) Counts() (map[string]uint64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func TestSymbols(t *testing.T) {
	syms := Symbols()
	assert.Len(t, syms, len(foreign.Symbols))
	assert.IsNonDecreasing(t, syms)
	assert.Contains(t, syms, foreign.SymCtxSetCustomVerify)
}

func TestMatrix(t *testing.T) {
	got := Matrix(map[string]string{
		foreign.SymSetCustomVerify:    StatusOK,
		foreign.SymGetPSKIdentity:     StatusMissing,
		foreign.SymCtxSetCustomVerify: StatusOK,
	})
	assert.Equal(t, "SSL_CTX_set_custom_verify=ok,SSL_get_psk_identity=missing,SSL_set_custom_verify=ok", got)
	assert.Equal(t, "", Matrix(nil))
}

func TestCounterProgram(t *testing.T) {
	insns := counterProgram(3, 7)
	require.Len(t, insns, 10)
	assert.Equal(t, int64(7), insns[0].Constant)
	assert.Equal(t, asm.FnMapLookupElem.Call().OpCode, insns[4].OpCode)
	assert.Equal(t, "exit", insns[8].Symbol())
}

func TestCollector(t *testing.T) {
	src := &fakeSource{
		status: map[string]string{foreign.SymSetCustomVerify: StatusOK, foreign.SymGetPSKIdentity: StatusMissing},
		counts: map[string]uint64{foreign.SymSetCustomVerify: 42},
	}
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(src)))

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]int{}
	for _, mf := range families {
		byName[mf.GetName()] = len(mf.GetMetric())
		if mf.GetName() == "tlsoverride_site_calls_total" {
			m := mf.GetMetric()[0]
			assert.Equal(t, 42.0, m.GetCounter().GetValue())
			assert.Equal(t, foreign.SymSetCustomVerify, m.GetLabel()[0].GetValue())
		}
	}
	assert.Equal(t, 1, byName["tlsoverride_site_calls_total"])
	assert.Equal(t, 2, byName["tlsoverride_site_status"])
	assert.Equal(t, 1, byName["tlsoverride_counter_read_errors_total"])
}

func TestSnapshot(t *testing.T) {
	src := &fakeSource{
		status: map[string]string{foreign.SymSkNum: StatusOK},
		counts: map[string]uint64{foreign.SymSkNum: 9},
	}
	snap := &Snapshot{Library: "libssl.so"}
	snap.Take(src)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, snap.WriteFile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, uint64(9), got.SiteCalls[foreign.SymSkNum])
	assert.Equal(t, StatusOK, got.ProbeStatus[foreign.SymSkNum])

	src.err = errors.New("map gone")
	snap.Take(src)
	assert.Equal(t, uint64(1), snap.ReaderErrors)
	assert.Equal(t, uint64(9), snap.SiteCalls[foreign.SymSkNum])
}
