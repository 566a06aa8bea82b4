package export

// 進捗の段階
const (
	StageQueued = "queued"
	StageLoad   = "load"
	StageQuery  = "query"
	StageRender = "render"
	StageWrite  = "write"
	StageDone   = "completed"
)

// ProgressReporter は進捗更新用コールバックです。percent は 0〜100 に丸めて渡されます。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, min(max(percent, 0), 100))
}
