// Package reconcile turns a provider response into catalog state: it
// normalizes raw records, merges them into the prior catalog without
// touching provenance, and recomputes the derived summary.
//
// Everything here is pure. Callers own I/O, clocks and logging.
package reconcile
