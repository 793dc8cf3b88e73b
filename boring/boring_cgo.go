//go:build cgo

package boring

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

static void *open_component(const char *name, int noload) {
  int flags = RTLD_LAZY | RTLD_LOCAL;
  if (noload) flags |= RTLD_NOLOAD;
  return dlopen(name, flags);
}

static const char *dl_error(void) {
  const char *e = dlerror();
  return e ? e : "unknown dlopen error";
}

static uintptr_t find_export(void *handle, const char *sym) {
  return (uintptr_t)dlsym(handle, sym);
}

// One trampoline per supported signature.
static uintptr_t call_p_p(uintptr_t fn, uintptr_t a) {
  return (uintptr_t)((void *(*)(void *))fn)((void *)a);
}
static uintptr_t call_z_p(uintptr_t fn, uintptr_t a) {
  return (uintptr_t)((size_t (*)(void *))fn)((void *)a);
}
static uintptr_t call_p_pz(uintptr_t fn, uintptr_t a, uintptr_t i) {
  return (uintptr_t)((void *(*)(void *, size_t))fn)((void *)a, (size_t)i);
}
static void call_v_pip(uintptr_t fn, uintptr_t a, uintptr_t mode, uintptr_t cb) {
  ((void (*)(void *, int, void *))fn)((void *)a, (int)mode, (void *)cb);
}

static void copy_bytes(void *dst, uintptr_t src, size_t n) {
  memcpy(dst, (const void *)src, n);
}

enum { SLOT_SET_CUSTOM_VERIFY, SLOT_CTX_SET_CUSTOM_VERIFY, SLOT_GET_PSK_IDENTITY, SLOT_COUNT };

// Written by the host primitive before the replacement becomes reachable.
static void *originals[SLOT_COUNT];

static uintptr_t original_at(int slot) {
  return (uintptr_t)__atomic_load_n(&originals[slot], __ATOMIC_ACQUIRE);
}

static void reset_originals(void) {
  for (int i = 0; i < SLOT_COUNT; i++) __atomic_store_n(&originals[i], NULL, __ATOMIC_RELEASE);
}

typedef int (*hook_replace_fn)(void *target, void *replacement, void **original);

static int call_hook(uintptr_t hook, uintptr_t target, uintptr_t replacement, int slot) {
  return ((hook_replace_fn)hook)((void *)target, (void *)replacement, &originals[slot]);
}

static const char psk_placeholder[] = "PSK_IDENTITY_PLACEHOLDER";

static const char *replacement_get_psk_identity(const void *ssl) {
  (void)ssl;
  return psk_placeholder;
}

extern int tlsoverride_verify(void *ssl, void *out_alert);
extern void tlsoverride_ssl_set_custom_verify(void *ssl, int mode, void *callback);
extern void tlsoverride_ssl_ctx_set_custom_verify(void *ctx, int mode, void *callback);

static uintptr_t addr_verify(void) { return (uintptr_t)&tlsoverride_verify; }
static uintptr_t addr_set_custom_verify(void) { return (uintptr_t)&tlsoverride_ssl_set_custom_verify; }
static uintptr_t addr_ctx_set_custom_verify(void) { return (uintptr_t)&tlsoverride_ssl_ctx_set_custom_verify; }
static uintptr_t addr_get_psk_identity(void) { return (uintptr_t)&replacement_get_psk_identity; }
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
)

// Library is a dlopen'ed component. The handle is never closed.
type Library struct {
	name   string
	handle unsafe.Pointer
}

func (l *Library) Name() string { return l.name }

func (l *Library) Export(symbol string) (uintptr, bool) {
	csym := C.CString(symbol)
	defer C.free(unsafe.Pointer(csym))
	addr := uintptr(C.find_export(l.handle, csym))
	return addr, addr != 0
}

// Loader opens components with dlopen.
type Loader struct{}

func (Loader) Attach(name string) (foreign.Component, error) {
	lib, err := open(name, true)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

func (Loader) Load(name string) (foreign.Component, error) {
	lib, err := open(name, false)
	if err != nil {
		return nil, err
	}
	return lib, nil
}

func open(name string, noload bool) (*Library, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	flag := C.int(0)
	if noload {
		flag = 1
	}
	h := C.open_component(cname, flag)
	if h == nil {
		return nil, errors.New(C.GoString(C.dl_error()))
	}
	return &Library{name: name, handle: h}, nil
}

// Caller calls native functions through the trampolines.
type Caller struct{}

func (Caller) Call(h foreign.Handle, args ...uintptr) (uintptr, error) {
	if !h.Valid() {
		return 0, foreign.NewError(foreign.KindSymbolNotFound, h.Name, "call through unresolved handle")
	}
	if len(args) != len(h.Sig.Args) {
		return 0, foreign.NewError(foreign.KindSignature, h.Name, fmt.Sprintf("%s called with %d args", h.Sig, len(args)))
	}
	fn := C.uintptr_t(h.Addr)
	switch h.Sig.String() {
	case "pointer(pointer)":
		return uintptr(C.call_p_p(fn, C.uintptr_t(args[0]))), nil
	case "size_t(pointer)":
		return uintptr(C.call_z_p(fn, C.uintptr_t(args[0]))), nil
	case "pointer(pointer,size_t)":
		return uintptr(C.call_p_pz(fn, C.uintptr_t(args[0]), C.uintptr_t(args[1]))), nil
	case "void(pointer,int,pointer)":
		C.call_v_pip(fn, C.uintptr_t(args[0]), C.uintptr_t(args[1]), C.uintptr_t(args[2]))
		return 0, nil
	}
	return 0, foreign.NewError(foreign.KindSignature, h.Name, "no trampoline for "+h.Sig.String())
}

func (Caller) Read(ptr uintptr, n int) ([]byte, error) {
	if ptr == 0 {
		return nil, foreign.NewError(foreign.KindExtraction, "", "read from null pointer")
	}
	if n < 0 {
		return nil, foreign.NewError(foreign.KindExtraction, "", fmt.Sprintf("negative read length %d", n))
	}
	b := make([]byte, n)
	if n > 0 {
		C.copy_bytes(unsafe.Pointer(&b[0]), C.uintptr_t(ptr), C.size_t(n))
	}
	return b, nil
}

// Hooker implements intercept.Interceptor on top of the host's
// int (*)(void *target, void *replacement, void **original) primitive.
type Hooker struct {
	lib  foreign.Component
	hook uintptr
}

func NewHooker(lib foreign.Component, hook uintptr) (*Hooker, error) {
	if hook == 0 {
		return nil, foreign.NewError(foreign.KindHook, "", "no hook primitive supplied")
	}
	return &Hooker{lib: lib, hook: hook}, nil
}

func (h *Hooker) Resolve(symbol string, sig foreign.Signature) (foreign.Handle, bool) {
	hd := foreign.Resolve(h.lib, symbol, sig)
	return hd, hd.Valid()
}

func (h *Hooker) Replace(target foreign.Handle, with intercept.Replacement) error {
	slot, ok := slotOf(target.Name)
	if !ok {
		return foreign.NewError(foreign.KindHook, target.Name, "not a hook site")
	}
	repl, err := replacementAddr(target.Name, with)
	if err != nil {
		return err
	}
	if rc := C.call_hook(C.uintptr_t(h.hook), C.uintptr_t(target.Addr), C.uintptr_t(repl), C.int(slot)); rc != 0 {
		return foreign.NewError(foreign.KindHook, target.Name, fmt.Sprintf("host primitive returned %d", int(rc)))
	}
	return nil
}

func (h *Hooker) CallOriginal(target foreign.Handle, args ...uintptr) (uintptr, error) {
	return callOriginal(target, args...)
}

func callOriginal(target foreign.Handle, args ...uintptr) (uintptr, error) {
	slot, ok := slotOf(target.Name)
	if !ok {
		return 0, foreign.NewError(foreign.KindHook, target.Name, "not a hook site")
	}
	orig := uintptr(C.original_at(C.int(slot)))
	if orig == 0 {
		return 0, foreign.NewError(foreign.KindHook, target.Name, "original not recorded")
	}
	return Caller{}.Call(foreign.Handle{Name: target.Name, Addr: orig, Sig: target.Sig}, args...)
}

func replacementAddr(symbol string, with intercept.Replacement) (uintptr, error) {
	switch {
	case symbol == foreign.SymSetCustomVerify && with == intercept.ReplaceCustomVerify:
		return uintptr(C.addr_set_custom_verify()), nil
	case symbol == foreign.SymCtxSetCustomVerify && with == intercept.ReplaceCustomVerify:
		return uintptr(C.addr_ctx_set_custom_verify()), nil
	case symbol == foreign.SymGetPSKIdentity && with == intercept.ReplacePSKIdentity:
		return uintptr(C.addr_get_psk_identity()), nil
	}
	return 0, foreign.NewError(foreign.KindHook, symbol, "no native replacement for "+with.String())
}

// resetOriginals forgets every recorded original. Only safe while no hook
// is reachable.
func resetOriginals() { C.reset_originals() }

// VerifyCallback is the address of the exported verify callback.
func VerifyCallback() uintptr { return uintptr(C.addr_verify()) }
