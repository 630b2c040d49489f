// Package credential owns the per-device MQTT identities, their topic
// access rules and the pending-change counter that tells the sync engine
// the broker configuration is stale.
//
// Every mutation and its counter increment commit in the same SQLite
// transaction, so a change can never be stored without also being marked
// pending. Plaintext passwords exist only in ProvisionResult: they are
// hashed immediately and the Credential type has no field that could hold
// one.
//
// Password digests use the Mosquitto PBKDF2-SHA512 format
// ($7$101$<salt>$<key>) so the generated password file is consumed by the
// broker directly.
package credential
