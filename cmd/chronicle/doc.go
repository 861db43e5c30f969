// Chronicle drafts release notes for a git revision range and backs every
// note with the changes it describes.
//
// It segments the range's diff into content-addressed hunks, indexes one
// evidence node per changed file, lets a model gather evidence through six
// byte-budgeted request kinds over several rounds, and reconciles the draft
// into notes that each cite indexed files.
//
// Usage:
//
//	chronicle notes v1.4.0..HEAD               # draft notes for a range
//	chronicle notes v1.4.0...main --format markdown  # against the merge base
//	chronicle index HEAD~20                    # build the evidence index only
//	chronicle evidence HEAD~20                 # print the index as JSON
//	chronicle serve v1.4.0..HEAD               # serve the evidence over MCP
//
// Exit codes: 0 success, 2 usage error, 3 provider authentication failure,
// 4 runtime error.
package main
