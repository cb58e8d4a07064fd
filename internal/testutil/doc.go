// Package testutil provides fixtures shared by the package tests: a
// controllable clock, cached RSA keys, client builders, JWS helpers and a
// small HTTP request builder.
package testutil
