// Package clarify suspends plan execution on a question only a human can
// answer. The Gate holds at most one outstanding question per plan; the
// asking agent blocks in Await until the answer is delivered, the question
// is abandoned, or its context ends.
package clarify
