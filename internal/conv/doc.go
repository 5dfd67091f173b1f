// Package conv provides checked integer conversions for sizes read from
// untrusted sources such as artifact headers and blob metadata.
package conv
