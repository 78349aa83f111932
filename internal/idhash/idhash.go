// Package idhash derives the short opaque identity hashes used as
// reputation and signature keys throughout the kernel.
package idhash

import (
	"encoding/base64"
	"net"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Identity is an opaque, short identity hash. It never reveals the
// underlying value (IP, UA) and is safe to log.
type Identity string

// Vectors holds the up-to-four stable identity hashes carried by every
// request (spec §3 "Identity vectors").
type Vectors struct {
	Primary Identity // hash of IP+UA
	UA      Identity
	IP      Identity
	Subnet  Identity // IP masked to /24 (v4) or /48 (v6)
}

// Hash derives a short opaque identity hash from raw, potentially
// sensitive input (an IP or a User-Agent string). It uses a blake2b-256
// digest truncated to 96 bits (base64url-encoded) rather than a fast non-cryptographic hash because the input can carry
// PII (an IP address) and must not be practically reversible by a casual
// rainbow-table sweep of the request-visible input space.
func Hash(raw string) Identity {
	sum := blake2b.Sum256([]byte(raw))
	return Identity(base64.RawURLEncoding.EncodeToString(sum[:12]))
}

// FastKey derives a non-cryptographic, high-throughput hash used for
// internal sharding and deterministic id derivation (e.g. cluster ids)
// where reversibility is not a concern and speed on the hot path is.
func FastKey(parts ...string) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// MaskedSubnet returns the /24 (IPv4) or /48 (IPv6) network for ip, as a
// canonical string suitable for hashing.
func MaskedSubnet(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String()
	}
	mask := net.CIDRMask(48, 128)
	return ip.Mask(mask).String()
}

// Derive computes all four identity vectors for a request's remote IP
// and raw User-Agent string.
func Derive(remoteIP, ua string) Vectors {
	ip := net.ParseIP(strings.TrimSpace(remoteIP))
	subnet := ""
	if ip != nil {
		subnet = MaskedSubnet(ip)
	}
	return Vectors{
		Primary: Hash(remoteIP + "|" + ua),
		UA:      Hash(ua),
		IP:      Hash(remoteIP),
		Subnet:  Hash(subnet),
	}
}
