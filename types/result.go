package types

// NetworkPacket is one record of the worker's analysis.
type NetworkPacket struct {
	SourceIP       string         `json:"source_ip" msgpack:"source_ip" yaml:"source_ip"`
	DestinationIP  string         `json:"destination_ip" msgpack:"destination_ip" yaml:"destination_ip"`
	Protocol       string         `json:"protocol" msgpack:"protocol" yaml:"protocol"`
	Size           int            `json:"size" msgpack:"size" yaml:"size"`
	Timestamp      string         `json:"timestamp" msgpack:"timestamp" yaml:"timestamp"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty" msgpack:"additional_info,omitempty" yaml:"additional_info,omitempty"`
}

// AnalysisResult is the terminal payload produced by the worker for a
// session. Ownership passes to the caller once returned.
type AnalysisResult struct {
	Packets []NetworkPacket `json:"packets" msgpack:"packets" yaml:"packets"`
	Summary map[string]any  `json:"summary" msgpack:"summary" yaml:"summary"`
}

// PacketCount returns the number of packet records, tolerating a nil result.
func (r *AnalysisResult) PacketCount() int {
	if r == nil {
		return 0
	}
	return len(r.Packets)
}
