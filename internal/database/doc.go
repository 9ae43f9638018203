// Package database provides the PostgreSQL-backed repositories for views and
// channel configuration, plus connection pooling and embedded schema
// migrations.
package database
