// Package storage defines the storage collaborator sbox builds on.
//
// The collaborator is a generic document store: collections of JSON documents
// with a small flat index for exact-match search, access groups, permission
// records, user accounts with sessions, and chunked blob storage. It never
// sees plaintext; every Content and blob it holds is ciphertext or public
// metadata.
//
// Implementations live in the sqlstore (gorm) and blobstore (badger)
// subpackages and are combined with Join.
package storage
