// Package rounds drives a bounded exchange between an evidence generator and
// the retrieval gateway.
//
// Each round the [Generator] sees the evidence index and the transcript so
// far and returns a [Bundle] of requests. Requests already served earlier in
// the session are dropped; the rest are served through the gateway and
// appended to the transcript. The loop stops when the generator reports it
// is done, when a round brings nothing new, or after MaxRounds.
//
// Budget errors never abort a session. Oversized hunk requests are retried
// in halving chunks and, at a chunk of one, the offending hunk is skipped.
package rounds
