package gateway

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var (
	evmAddressRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	tronAddressRe = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
)

// ValidateWalletAddress checks the format of a crypto payout address for a network
// (ton, tron, evm). It cannot prove the address exists.
func ValidateWalletAddress(network, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return &InvalidPayeeKeyError{Key: address, Reason: "empty"}
	}

	var ok bool
	switch strings.ToLower(network) {
	case "ton":
		ok = validTONAddress(address)
	case "tron", "trc20":
		ok = tronAddressRe.MatchString(address)
	case "evm", "erc20", "bep20", "polygon":
		ok = evmAddressRe.MatchString(address)
	default:
		return &InvalidPayeeKeyError{Key: address, Reason: "unsupported network " + network}
	}
	if !ok {
		return &InvalidPayeeKeyError{Key: address, Reason: "not a valid " + network + " address"}
	}
	return nil
}

// raw form is workchain:hex, user-friendly form is 48 chars of url-safe base64
func validTONAddress(address string) bool {
	if len(address) >= 66 && (strings.HasPrefix(address, "0:") || strings.HasPrefix(address, "-1:")) {
		return true
	}
	if len(address) == 48 {
		b, err := base64.URLEncoding.DecodeString(address)
		return err == nil && len(b) == 36
	}
	return false
}
