// Package secrets provides the cryptographic core of sbox.
//
// # Encryption Architecture
//
// sbox uses a hybrid scheme per SBox:
//
//  1. A random 256-bit common key encrypts the SBox documents and files (AES-GCM)
//  2. Each member's RSA public key wraps a copy of the common key (RSA-OAEP, SHA-256)
//  3. Members unwrap their copy with their private key, then decrypt content
//
// # Identity Keys
//
// A user's RSA key pair is generated at sign-up. The private key is sealed
// with NaCl secretbox under a wrapping key derived from the user's password:
//
//	salt        = SHA-256(password)
//	stretched   = Argon2id(password, salt)
//	wrappingKey = HKDF-SHA256(stretched, salt, info=contextInfo)
//
// Both keys are persisted by the backend as opaque blobs. Login re-derives
// the wrapping key and unwraps the private key; a failed unwrap is reported
// as ErrCredential whether the password was wrong or the data corrupted.
//
// # Common Keys
//
// A Keyring is the ownership table of unwrapped common keys, indexed by SBox
// id. Keys leave the table only through Evict or Purge, which zero them.
//
// # Nonces
//
// Documents use a nonce derived from their whole-second timestamp:
// SHA-256(8-byte big-endian milliseconds)[:12]. The timestamp is stored with
// the document, so no nonce field is needed. Two different plaintexts must
// never share a timestamp under the same key.
//
// Files use a random 12-byte nonce stored alongside the record.
package secrets
