// Package password provides Argon2id password hashing with PHC-format
// encoded hashes.
package password
