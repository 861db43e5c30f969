package notes

import (
	"github.com/dshills/chronicle/internal/evidence"
	"github.com/dshills/chronicle/internal/gateway"
	"github.com/dshills/chronicle/internal/gitctx"
	"github.com/dshills/chronicle/internal/reconcile"
	"github.com/dshills/chronicle/internal/rounds"
)

// Tool is the name reported in every report.
const Tool = "chronicle"

// Usage counts model calls.
type Usage struct {
	Calls      int `json:"calls"`
	CacheHits  int `json:"cacheHits"`
	Repairs    int `json:"repairs"`
	TokensUsed int `json:"tokensUsed"`
}

// EvidenceInfo summarizes the index a report was built from.
type EvidenceInfo struct {
	Files    int                      `json:"files"`
	Hunks    int                      `json:"hunks"`
	Surfaces map[evidence.Surface]int `json:"surfaces"`
	// Reused is true when an existing index was loaded instead of built.
	Reused bool `json:"reused,omitempty"`
}

// Timing contains performance metrics.
type Timing struct {
	IndexMs  int64 `json:"indexMs"`
	RoundsMs int64 `json:"roundsMs"`
	DraftMs  int64 `json:"draftMs"`
	TotalMs  int64 `json:"totalMs"`
}

// Report is the top-level output structure.
type Report struct {
	Tool      string              `json:"tool"`
	Version   string              `json:"version"`
	RunID     string              `json:"runId"`
	Provider  string              `json:"provider"`
	Model     string              `json:"model"`
	Repo      gitctx.RepoMeta     `json:"repo"`
	Range     gitctx.Range        `json:"range"`
	Commits   []gitctx.CommitInfo `json:"commits"`
	Evidence  EvidenceInfo        `json:"evidence"`
	Notes     []reconcile.Note    `json:"notes"`
	Budgets   []gateway.Usage     `json:"budgets"`
	Usage     Usage               `json:"usage"`
	Rounds    rounds.Summary      `json:"rounds"`
	Reconcile reconcile.Stats     `json:"reconcile"`
	// Truncated counts notes cut by the configured maximum.
	Truncated int    `json:"truncated,omitempty"`
	Timing    Timing `json:"timing"`
}
