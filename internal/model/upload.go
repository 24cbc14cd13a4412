package model

// UploadResult is where an uploaded source asset ended up. Callers cannot
// tell whether the render backend or the fallback store produced it.
type UploadResult struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}
