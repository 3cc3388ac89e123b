// Package securearea abstracts the backend that custodies private key
// material. Callers create, use, attest, and delete keys through the
// SecureArea interface without knowing whether keys live in a software
// keystore, platform hardware, or a remote key service.
package securearea
