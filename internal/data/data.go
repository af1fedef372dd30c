package data

import "strings"

// Location is one entry of the edge location table.
type Location struct {
	IATA   string  `json:"iata"`
	City   string  `json:"city"`
	CCA2   string  `json:"cca2,omitempty"`
	Region string  `json:"region,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
}

// ActiveEdge is the subset of the trace response that identifies the
// serving edge and the client.
type ActiveEdge struct {
	Colo     string `json:"colo"`
	ClientIP string `json:"client_ip"`
	Loc      string `json:"loc"`
}

// ServerInfo is the human-facing join of ActiveEdge and Location.
type ServerInfo struct {
	Location string `json:"location"`
	ClientIP string `json:"client_ip"`
}

func (s ServerInfo) String() string {
	return "Server Location: \t" + strings.ReplaceAll(s.Location, `"`, "") +
		"\nYour IP: \t\t" + s.ClientIP + "\n"
}

// Summary is the rendered form of a stats.Summary. Latency values are in
// milliseconds, throughput values in Mbps.
type Summary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Jitter float64 `json:"jitter"`
}

type Latency struct {
	Summary
	Attempts int `json:"attempts"`
	Accepted int `json:"accepted"`
}

// Tier is the bandwidth result for one download profile entry. Summary is
// nil when every sample of the tier was dropped.
type Tier struct {
	Label    string   `json:"label"`
	Bytes    int64    `json:"bytes"`
	Attempts int      `json:"attempts"`
	Accepted int      `json:"accepted"`
	Summary  *Summary `json:"mbps,omitempty"`
}

type TestResult struct {
	Provider string     `json:"provider"`
	Server   ServerInfo `json:"server"`
	Latency  Latency    `json:"latency"`
	Download []Tier     `json:"download"`
}
