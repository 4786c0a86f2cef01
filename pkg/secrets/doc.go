/*
Package secrets implements the authenticated-encryption envelope used for
every user-supplied secret: environment variable values, source-control
tokens, and anything else that must never rest in plaintext.

# Envelope Format

Each secret string is stored as three colon-separated hex components:

	hex(iv) : hex(authTag) : hex(ciphertext)

	┌──────────────── ENVELOPE LIFECYCLE ────────────────┐
	│                                                     │
	│  API accept time                                    │
	│    EncryptMap: value-by-value AES-256-GCM seal      │
	│    16-byte random IV per value                      │
	│            │                                        │
	│            ▼  stored in the JSON env column         │
	│  Queue payload                                      │
	│    values travel still encrypted through Redis      │
	│            │                                        │
	│            ▼                                        │
	│  Worker, job construction                           │
	│    DecryptMap: open + authenticate                  │
	│    plaintext exists only inside the pipeline        │
	│                                                     │
	│  REST responses: every value masked as ********     │
	└─────────────────────────────────────────────────────┘

Decryption authenticates: a single flipped byte in the ciphertext or the
auth tag fails the open. Values that do not split into exactly three hex
components are rejected before any cryptography runs.

# Key Lifecycle

The 256-bit key comes from ENCRYPTION_KEY (64 hex chars) and must be stable
across processes and restarts; rotating it makes previously stored secrets
undecryptable. Key rotation/derivation is out of scope here.

# Webhook Signatures

Webhook payloads are authenticated with HMAC-SHA256 over the raw body and
compared in constant time (VerifySignature). SHA-256 hashing (HashSHA256)
is available for non-reversible digests.
*/
package secrets
