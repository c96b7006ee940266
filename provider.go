package compose

import "sync/atomic"

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto    Provider = iota // Let library choose best available
	ProviderBuiltin                 // Raw I420 and PCM passthrough
	ProviderLibvpx                  // VP8/VP9 via libvpx wrapper
	ProviderLibaom                  // AV1 via libaom wrapper
	ProviderPion                    // Pure-Go Opus decoder
	providerCount
)

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string
	PureGo  bool // No native library required
	Encoder bool
	Decoder bool
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:    {"auto", true, false, false},
	ProviderBuiltin: {"builtin", true, true, true},
	ProviderLibvpx:  {"libvpx", false, true, true},
	ProviderLibaom:  {"libaom", false, true, true},
	ProviderPion:    {"pion", true, false, true},
}

// Runtime availability - set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// PureGo reports whether the provider works without native libraries.
func (p Provider) PureGo() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].PureGo
}

// CanEncode returns true if the provider supports encoding.
func (p Provider) CanEncode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Encoder
}

// CanDecode returns true if the provider supports decoding.
func (p Provider) CanDecode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Decoder
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}
