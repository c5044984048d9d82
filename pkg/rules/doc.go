// Package rules turns constraint observations into a library of
// statistically summarized rules (Learner) and uses such a library to rank
// constraints proposed for new assemblies (Proposer).
//
// Libraries are copy on write: Learn never mutates the library it extends,
// so a published *Library can be read concurrently without locking.
package rules
