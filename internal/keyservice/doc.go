// Package keyservice implements the HTTP/JSON key service that backs the
// remote secure area variant: a server exposing create/sign/agree/attest/
// delete over a software-backed keystore, and the client that implements
// securearea.SecureArea against it.
package keyservice
