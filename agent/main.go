// Command agent is the override as a shared library, built with
//
//	go build -buildmode=c-shared -o libtlsoverride.so ./agent
//
// and loaded into the target by the instrumentation host, which then calls
// one of the install functions with its code-patching primitive:
//
//	int hook(void *target, void *replacement, void **original);
package main

// #include <stddef.h>
// #include <stdint.h>
import "C"

import (
	"os"
	"sync"
	"unsafe"

	"carnotengine/tls-override/boring"
	"carnotengine/tls-override/config"
)

var installOnce sync.Once

// tlsoverride_install hooks component with ca (DER) as the trusted CA. It
// returns the number of custom_verify sites installed, or -1 when nothing
// could be installed at all.
//
//export tlsoverride_install
func tlsoverride_install(component *C.char, ca *C.uint8_t, caLen C.size_t, hook unsafe.Pointer) C.int {
	cfg := config.Default()
	if component != nil {
		cfg.Component = C.GoString(component)
	}
	if ca == nil || caLen == 0 {
		cfg.Logger(os.Stderr).Error.Printf("no trusted CA supplied, not hooking TLS")
		return -1
	}
	der := C.GoBytes(unsafe.Pointer(ca), C.int(caLen))
	return install(cfg, der, hook)
}

// tlsoverride_install_file is tlsoverride_install driven by a TOML file.
//
//export tlsoverride_install_file
func tlsoverride_install_file(path *C.char, hook unsafe.Pointer) C.int {
	cfg, err := config.Load(C.GoString(path))
	if err != nil {
		config.Default().Logger(os.Stderr).Error.Printf("%v", err)
		return -1
	}
	logl := cfg.Logger(os.Stderr)
	if err := cfg.Validate(); err != nil {
		logl.Error.Printf("%v", err)
		return -1
	}
	der, err := cfg.ReadTrustedCA()
	if err != nil {
		logl.Error.Printf("%v", err)
		return -1
	}
	return install(cfg, der, hook)
}

func install(cfg *config.Config, der []byte, hook unsafe.Pointer) C.int {
	result := C.int(-1)
	ran := false
	installOnce.Do(func() {
		ran = true
		logl := cfg.Logger(os.Stderr)
		report, err := boring.Install(cfg.Component, der, uintptr(hook), logl)
		if err != nil {
			logl.Error.Printf("TLS override inactive: %v", err)
			return
		}
		result = C.int(report.Primaries())
	})
	if !ran {
		cfg.Logger(os.Stderr).Info.Printf("TLS override install already attempted, ignoring")
	}
	return result
}

func main() {}
