// Package testutil provides test fixtures, a controllable clock and small
// assertion helpers shared by the storage, server and HTTP tests.
package testutil
