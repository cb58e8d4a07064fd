// Package util holds small helpers shared by the protocol packages that do
// not belong to any of them.
//
//   - SafeTruncate: shortens tokens and identifiers before they are logged
package util
