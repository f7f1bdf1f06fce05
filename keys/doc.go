// Package keys holds the key material behind venue access tokens.
//
// Two schemes are supported:
//   - HMAC keys derived from an operator secret with HKDF-SHA256, bound to a
//     purpose label so one secret never signs for two contexts.
//   - Dilithium3 (post-quantum) keypairs for deployments that publish a
//     verification key; seeds can be kept in a local KeyStore.
package keys
