package foreign

// Default component name on iOS, where BoringSSL ships as a system dylib.
const DefaultComponent = "libboringssl.dylib"

// Exported BoringSSL symbols used by the override.
const (
	SymGet0PeerCertificates = "SSL_get0_peer_certificates"
	SymSkNum                = "sk_num"
	SymSkValue              = "sk_value"
	SymBufferLen            = "CRYPTO_BUFFER_len"
	SymBufferData           = "CRYPTO_BUFFER_data"
	SymSetCustomVerify      = "SSL_set_custom_verify"
	SymCtxSetCustomVerify   = "SSL_CTX_set_custom_verify"
	SymGetPSKIdentity       = "SSL_get_psk_identity"
)

// Symbols maps every symbol to the signature it must be called with.
var Symbols = map[string]Signature{
	// const STACK_OF(CRYPTO_BUFFER) *SSL_get0_peer_certificates(const SSL *ssl)
	SymGet0PeerCertificates: Sig(Pointer, Pointer),
	// size_t sk_num(const _STACK *sk)
	SymSkNum: Sig(SizeT, Pointer),
	// void *sk_value(const _STACK *sk, size_t i)
	SymSkValue: Sig(Pointer, Pointer, SizeT),
	// size_t CRYPTO_BUFFER_len(const CRYPTO_BUFFER *buf)
	SymBufferLen: Sig(SizeT, Pointer),
	// const uint8_t *CRYPTO_BUFFER_data(const CRYPTO_BUFFER *buf)
	SymBufferData: Sig(Pointer, Pointer),
	// void SSL_set_custom_verify(SSL *ssl, int mode, verify_cb callback)
	SymSetCustomVerify: Sig(Void, Pointer, Int, Pointer),
	// void SSL_CTX_set_custom_verify(SSL_CTX *ctx, int mode, verify_cb callback)
	SymCtxSetCustomVerify: Sig(Void, Pointer, Int, Pointer),
	// const char *SSL_get_psk_identity(const SSL *ssl)
	SymGetPSKIdentity: Sig(Pointer, Pointer),
}
