package telemetry

import "net"

// MaskIP returns a zero-PII representation of ip suitable for log
// fields and metric labels (spec §6.5: "No log line ever emits raw IP
// without masking"). IPv4 addresses are truncated to their /24, IPv6 to
// their /48, matching the granularity idhash.MaskedSubnet already uses
// for detection so the masked form a log line shows lines up with what
// the reputation cache keys on.
func MaskIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "invalid"
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String() + "/24"
	}
	masked := make(net.IP, len(ip))
	copy(masked, ip)
	for i := 6; i < len(masked); i++ {
		masked[i] = 0
	}
	return masked.String() + "/48"
}
