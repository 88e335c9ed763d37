// Package records provides the durable record store for provisioned resource
// families. It includes a SQLite-backed store with embedded migrations and a
// DynamoDB-backed store, both offering conditional claim writes so that at most
// one provisioning attempt owns a name at a time.
package records
