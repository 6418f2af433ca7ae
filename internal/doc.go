// Package internal holds code generation helpers shared by the root
// package. Nothing here is part of the public contract.
package internal
