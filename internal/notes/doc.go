// Package notes turns a revision range into a reconciled, evidence-backed
// report.
//
// [Prepare] resolves the range and loads or builds its evidence index.
// [Run] then drives the retrieval rounds through a [Drafter], asks it for
// draft items and reconciles them against the index.
//
// [LLMGenerator] is the model-backed Drafter. Each round it renders the
// evidence index, the remaining budgets and everything served so far (with
// secrets and policy paths redacted) and expects a JSON object of requests.
// The draft step expects a JSON array of items. A reply that does not parse
// gets one repair pass; replies that parse are cached by provider, model and
// prompt.
package notes
