//go:build cgo

package boring

// #include <stdint.h>
import "C"

import (
	"unsafe"

	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
)

//export tlsoverride_verify
func tlsoverride_verify(ssl unsafe.Pointer, outAlert unsafe.Pointer) C.int {
	return C.int(verify(uintptr(ssl)))
}

//export tlsoverride_ssl_set_custom_verify
func tlsoverride_ssl_set_custom_verify(ssl unsafe.Pointer, mode C.int, callback unsafe.Pointer) {
	setCustomVerify(foreign.SymSetCustomVerify, uintptr(ssl), uintptr(mode), uintptr(callback))
}

//export tlsoverride_ssl_ctx_set_custom_verify
func tlsoverride_ssl_ctx_set_custom_verify(ctx unsafe.Pointer, mode C.int, callback unsafe.Pointer) {
	setCustomVerify(foreign.SymCtxSetCustomVerify, uintptr(ctx), uintptr(mode), uintptr(callback))
}

func verify(ssl uintptr) (result int) {
	defer func() {
		if recover() != nil {
			result = intercept.VerifyInvalid
		}
	}()
	return Active().Verify(ssl)
}

func setCustomVerify(symbol string, ssl, mode, callback uintptr) {
	defer func() { _ = recover() }()
	target := foreign.Handle{Name: symbol, Sig: foreign.Symbols[symbol]}
	if b := Active(); b != nil {
		b.SetCustomVerify(target, ssl, mode, callback)
		return
	}
	// hooks are only installed after Activate; behave like the original anyway
	_, _ = callOriginal(target, ssl, mode, callback)
}
