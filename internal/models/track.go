package models

// Track is the normalized catalog track shape shared by the gateway, the
// search proxy and the recently-played list. Duration is in milliseconds.
type Track struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Icon     string `json:"icon,omitempty"`
	URL      string `json:"url,omitempty"`
	Duration int64  `json:"duration"`
}
