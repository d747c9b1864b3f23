// Package kms provides threshold secret sharing for social recovery.
//
// # ShamirSharer
//
// Implements interfaces.SecretSharer on top of hashicorp/vault's shamir package.
// A secret is split into N shares such that any T of them reconstruct it and
// fewer reveal nothing. T must be at least 2 and N at most 255.
//
// # ShareCollector
//
// Gathers shares submitted one at a time during a recovery, keyed by share
// index, and combines them once the threshold is met. Collected shares live
// only in memory and are wiped after reconstruction or reset.
package kms
