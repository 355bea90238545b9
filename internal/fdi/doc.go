// Package fdi defines the shared model of the FDI rule language: rule
// kinds, match operators, merge types, the three evaluation phases, and the
// binary layout constants of the compiled rule cache.
//
// The compiler (fdi/compiler) turns a tree of .fdi XML files into one
// packed cache blob; the cache package (fdi/cache) is the read-only,
// bounds-checked view over that blob; the evaluator (fdi/evaluator) walks a
// region of the view and decorates devices. The monitor (fdi/monitor) keeps
// the blob coherent with the source tree.
//
// The numeric enum values and the layout constants here are the wire
// contract between those packages and any external tool that maps the
// cache; changing them invalidates every cache on disk.
package fdi
