package export

// Result は生成された帳票です。
type Result struct {
	JobID       string `json:"jobId,omitempty"`
	Kind        Kind   `json:"kind"`
	ID          int64  `json:"id"`
	Format      Format `json:"format"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	// Data は同期出力時の内容です。ジョブの成果物では nil です。
	Data []byte `json:"-"`
	// RequestedBy はジョブを依頼したユーザーのメールアドレスです。
	RequestedBy string `json:"-"`
}

func newResult(req Request, format Format, data []byte) *Result {
	return &Result{
		Kind:        req.Kind,
		ID:          req.ID,
		Format:      format,
		Filename:    Filename(req.Kind, req.ID, format),
		ContentType: format.ContentType(),
		Size:        int64(len(data)),
		Data:        data,
	}
}
