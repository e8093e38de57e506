//go:build integration

// Package integration provides integration tests for the publishing sinks.
//
// These tests require Docker. They start a registry:2 container for the OCI
// publisher and a MinIO container for the S3 client using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
