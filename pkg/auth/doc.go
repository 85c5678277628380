// Package auth stores the credentials used to authenticate against a
// notification endpoint.
//
// Manager tries the system keyring first, then an AES-GCM encrypted file in
// the data directory (key derived with PBKDF2 from CHAPTERVAULT_PASSPHRASE or
// a generated passphrase file), then the CHAPTERVAULT_NTFY_USERNAME and
// CHAPTERVAULT_NTFY_PASSWORD environment variables.
package auth
