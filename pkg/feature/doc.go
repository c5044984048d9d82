// Package feature defines the canonical geometric primitives that make up a
// part's feature catalog. Catalogs are produced by an external extraction
// step (STEP/B-rep analysis) and arrive here already expressed in one shared
// world frame with unit direction vectors. This package only models and
// validates them; it never parses CAD files.
package feature
