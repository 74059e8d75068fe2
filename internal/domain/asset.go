// Package domain defines core data structures used throughout the readiness engine.
package domain

import "fmt"

// DataAssetCode is the code of the self-issued marketplace asset.
const DataAssetCode = "DATA"

// Asset is either the network native unit (empty Code) or a code/issuer pair.
type Asset struct {
	// Code asset code, empty for native.
	Code string
	// Issuer issuing account address, empty for native.
	Issuer string
}

// NativeAsset returns the network native unit.
func NativeAsset() Asset {
	return Asset{}
}

// NewCustomAsset creates a credit asset issued by issuer.
func NewCustomAsset(code, issuer string) Asset {
	return Asset{Code: code, Issuer: issuer}
}

// IsNative reports whether the asset is the native unit.
func (a Asset) IsNative() bool {
	return a.Code == ""
}

// Equal compares asset descriptors.
func (a Asset) Equal(other Asset) bool {
	return a.Code == other.Code && a.Issuer == other.Issuer
}

// String returns the string representation.
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
}
