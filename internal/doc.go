// Package internal contains helper utilities that are intentionally private to
// goLink, including phone number normalization and masking.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goLink API.
//   - Be imported by any package outside the goLink module.
package internal
