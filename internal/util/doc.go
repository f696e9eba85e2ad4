// Package util provides small helpers shared across the authorization server
// packages: log-safe truncation of token values, URL normalization and the
// delimited set encoding used for scope and URI columns.
package util
