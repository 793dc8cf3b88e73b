//go:build cgo

package boring

/*
#include <stdint.h>
#include <stddef.h>

// An in-process stand-in for the host's hook primitive. It patches nothing:
// it remembers the replacement and reports fake_original as the original.
static void *fake_replacement;
static uintptr_t fake_ssl, fake_mode, fake_callback;
static int fake_calls;

static void fake_original(void *ssl, int mode, void *callback) {
  fake_ssl = (uintptr_t)ssl;
  fake_mode = (uintptr_t)mode;
  fake_callback = (uintptr_t)callback;
  fake_calls++;
}

static void fake_target(void *ssl, int mode, void *callback) {
  (void)ssl; (void)mode; (void)callback;
}

static int fake_hook(void *target, void *replacement, void **original) {
  (void)target;
  fake_replacement = replacement;
  *original = (void *)&fake_original;
  return 0;
}

static int refusing_hook(void *target, void *replacement, void **original) {
  (void)target; (void)replacement; (void)original;
  return -1;
}

static void fake_reset(void) {
  fake_replacement = NULL;
  fake_ssl = fake_mode = fake_callback = 0;
  fake_calls = 0;
}

static int fake_call_replacement(uintptr_t ssl, int mode, uintptr_t callback) {
  if (!fake_replacement) return -1;
  ((void (*)(void *, int, void *))fake_replacement)((void *)ssl, mode, (void *)callback);
  return 0;
}

static uintptr_t addr_fake_hook(void) { return (uintptr_t)&fake_hook; }
static uintptr_t addr_refusing_hook(void) { return (uintptr_t)&refusing_hook; }
static uintptr_t addr_fake_target(void) { return (uintptr_t)&fake_target; }
static uintptr_t addr_fake_original(void) { return (uintptr_t)&fake_original; }
*/
import "C"

// fakeHook is a native hook primitive for exercising Hooker without patching
// code. The original it hands out records its last call.
type fakeHook struct{}

// originalCall is what the fake original last received.
type originalCall struct {
	SSL      uintptr
	Mode     uintptr
	Callback uintptr
	Calls    int
}

func (fakeHook) Addr() uintptr         { return uintptr(C.addr_fake_hook()) }
func (fakeHook) RefusingAddr() uintptr { return uintptr(C.addr_refusing_hook()) }
func (fakeHook) Target() uintptr       { return uintptr(C.addr_fake_target()) }
func (fakeHook) Original() uintptr     { return uintptr(C.addr_fake_original()) }

func (fakeHook) LastCall() originalCall {
	return originalCall{
		SSL:      uintptr(C.fake_ssl),
		Mode:     uintptr(C.fake_mode),
		Callback: uintptr(C.fake_callback),
		Calls:    int(C.fake_calls),
	}
}

// CallReplacement calls the replacement the hook was given, through C, the
// way patched library code would. It returns false if none was recorded.
func (fakeHook) CallReplacement(ssl uintptr, mode int, callback uintptr) bool {
	return C.fake_call_replacement(C.uintptr_t(ssl), C.int(mode), C.uintptr_t(callback)) == 0
}

func (fakeHook) Reset() {
	C.fake_reset()
	resetOriginals()
}
