// Package configs loads the sbox client configuration.
//
// The config lives at <UserConfigDir>/sbox/config.toml:
//
//	[backend]
//	driver = "sqlite"                 # or "mysql"
//	dsn = "/home/alice/.local/share/sbox/sbox.db"
//	blob_path = "/home/alice/.local/share/sbox/blobs"
//
//	[crypto]
//	context_info = "sbox-identity-v1"
//	kdf_time = 1
//	kdf_memory_kib = 65536
//	kdf_threads = 4
//
//	[sync]
//	page_size = 50
//	max_pages = 10000
//
//	[files]
//	chunk_size = 262144
//
//	[user]
//	username = "alice"
//
// Missing keys keep their defaults. SBOX_DRIVER, SBOX_DSN, SBOX_BLOB_PATH,
// SBOX_USERNAME and SBOX_PAGE_SIZE override the file, and may come from a
// .env file loaded with LoadEnvFile. Passwords are only ever read from
// SBOX_PASSWORD and SBOX_E2E_PASSWORD (or prompted for) and never saved.
//
// # Settings
//
// SBoxSettings holds the config path and the data directory
// ($XDG_DATA_HOME/sbox) that also contains the audit log.
package configs
