// Package mate classifies pairs of geometric features into assembly
// constraints (mates) using closed-form predicates: axis angle, skew-line
// distance and point-to-plane distance.
//
// Classification is pure and symmetric. The absence of a relation is
// reported through an ok flag and is never an error; errors are reserved
// for malformed features (*feature.InvalidFeatureError).
package mate
