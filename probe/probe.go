// Package probe counts calls to the hook sites and accessors of a BoringSSL
// library on disk, from outside the process, with one uprobe per symbol.
//
// It answers "which of the sites exist in this build, and does the target
// actually route handshakes through them" before the override is injected.
// Loading the probes needs CAP_BPF (or root).
package probe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"carnotengine/tls-override/foreign"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
)

// Probe states, as printed in the probe matrix.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusError   = "error"
)

// Symbols returns every symbol the override depends on, sorted.
func Symbols() []string {
	syms := make([]string, 0, len(foreign.Symbols))
	for s := range foreign.Symbols {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Tracer owns the counter map, the programs and the uprobe links.
type Tracer struct {
	library  string
	symbols  []string
	counters *ebpf.Map
	progs    []*ebpf.Program
	links    []link.Link

	mu     sync.Mutex
	status map[string]string
}

// Open attaches a counting uprobe to each symbol of library. Symbols the
// library does not export are recorded as missing, not treated as errors.
func Open(library string, symbols []string) (*Tracer, error) {
	if len(symbols) == 0 {
		return nil, errors.New("probe: no symbols")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("probe: remove memlock: %w", err)
	}
	exe, err := link.OpenExecutable(library)
	if err != nil {
		return nil, fmt.Errorf("probe: open executable: %w", err)
	}
	counters, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "site_calls",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(len(symbols)),
	})
	if err != nil {
		return nil, fmt.Errorf("probe: counter map: %w", err)
	}
	t := &Tracer{
		library:  library,
		symbols:  append([]string(nil), symbols...),
		counters: counters,
		status:   make(map[string]string, len(symbols)),
	}
	for i, sym := range t.symbols {
		prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
			Name:         fmt.Sprintf("site_%d", i),
			Type:         ebpf.Kprobe,
			Instructions: counterProgram(counters.FD(), uint32(i)),
			License:      "Dual MIT/GPL",
		})
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("probe: load program for %s: %w", sym, err)
		}
		t.progs = append(t.progs, prog)

		l, err := exe.Uprobe(sym, prog, nil)
		switch {
		case err == nil:
			t.links = append(t.links, l)
			t.status[sym] = StatusOK
		case errors.Is(err, link.ErrNoSymbol):
			t.status[sym] = StatusMissing
		default:
			t.status[sym] = StatusError
		}
	}
	return t, nil
}

// counterProgram increments counters[index] by one on every hit.
func counterProgram(mapFD int, index uint32) asm.Instructions {
	return asm.Instructions{
		asm.StoreImm(asm.RFP, -4, int64(index), asm.Word),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, mapFD),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

// Library is the probed file.
func (t *Tracer) Library() string { return t.library }

// Status returns a copy of the per-symbol probe states.
func (t *Tracer) Status() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.status))
	for k, v := range t.status {
		out[k] = v
	}
	return out
}

// Counts reads the call counters of the attached symbols.
func (t *Tracer) Counts() (map[string]uint64, error) {
	out := make(map[string]uint64, len(t.symbols))
	status := t.Status()
	for i, sym := range t.symbols {
		if status[sym] != StatusOK {
			continue
		}
		var v uint64
		if err := t.counters.Lookup(uint32(i), &v); err != nil {
			return nil, fmt.Errorf("probe: read counter %s: %w", sym, err)
		}
		out[sym] = v
	}
	return out, nil
}

// Close detaches every probe.
func (t *Tracer) Close() error {
	var errs []error
	for _, l := range t.links {
		errs = append(errs, l.Close())
	}
	for _, p := range t.progs {
		errs = append(errs, p.Close())
	}
	if t.counters != nil {
		errs = append(errs, t.counters.Close())
	}
	return errors.Join(errs...)
}

// Matrix renders a status map as "sym=status,..." sorted by symbol.
func Matrix(status map[string]string) string {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, status[k]))
	}
	return strings.Join(parts, ",")
}
