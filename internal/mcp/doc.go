// Package mcp exposes the retrieval gateway of one indexed range as Model
// Context Protocol tools over stdio.
//
// One server owns one gateway, so every tool call by every client
// draws on the same per-kind budgets for the life of the process. Failures
// come back as tool errors whose payload carries the error code, for
// example BUDGET_EXCEEDED when a result does not fit what is left.
package mcp
