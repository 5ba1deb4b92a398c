package models

// RuntimeInfo describes the backend runtime settings a client may need.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	Port        int    `json:"port"`
	Workers     int    `json:"workers"`
	Redis       bool   `json:"redis"`
	Knowledge   bool   `json:"knowledge"`
}
