package models

// DiskUsage contains filesystem usage of the shared root
type DiskUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// ServerInfoResponse is returned by /server_info
type ServerInfoResponse struct {
	Uptime    float64   `json:"uptime"`
	Root      string    `json:"root"`
	TreeSize  int       `json:"tree_size"`
	Disk      DiskUsage `json:"disk"`
	Telemetry bool      `json:"telemetry"`
}

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}
