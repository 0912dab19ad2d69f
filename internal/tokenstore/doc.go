// Package tokenstore provides keyed storage for short-lived authentication tokens.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - JSONFile: one JSON object in the user's cache directory, used when no OS vault is available
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: Read-only environment variable access (requires external secret management)
//
// The JSON file is a plaintext cache, not a vault: it relies on owner-only file
// permissions and performs no locking against other processes (last writer wins).
// Every operation re-reads the file, so nothing is cached in memory between calls.
package tokenstore
