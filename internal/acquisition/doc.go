// Package acquisition bridges an asynchronous document-reading transport to
// a single terminal result. A session relays ordered progress notifications
// and resolves exactly once, even if the underlying transport reports a
// terminal state twice; the parsed attributes then populate a credential.
package acquisition
