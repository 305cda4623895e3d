package domain

type ExportStats struct {
	Width         int   `json:"width"`
	Height        int   `json:"height"`
	NativeWidth   int   `json:"native_width"`
	NativeHeight  int   `json:"native_height"`
	Bytes         int64 `json:"bytes"`
	Resampled     bool  `json:"resampled"`
	ComputeTimeMS int64 `json:"compute_time_ms"`
}
