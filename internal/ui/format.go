package ui

import (
	"fmt"
	"math/big"
	"strings"
)

var yoctoPerNEAR = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// FormatNEAR renders a yoctoNEAR amount as NEAR without trailing zeros.
func FormatNEAR(yocto string) string {
	v, ok := new(big.Int).SetString(yocto, 10)
	if !ok {
		return yocto + " yoctoNEAR"
	}
	whole, frac := new(big.Int).QuoRem(v, yoctoPerNEAR, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String() + " NEAR"
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%024s", frac.String()), "0")
	return whole.String() + "." + fracStr + " NEAR"
}

// FormatGas renders gas in Tgas.
func FormatGas(gas uint64) string {
	const tera = 1_000_000_000_000
	if gas%tera == 0 {
		return fmt.Sprintf("%d Tgas", gas/tera)
	}
	return fmt.Sprintf("%.2f Tgas", float64(gas)/tera)
}

// StepLabel is the user-facing description of a workflow state.
func StepLabel(state string) string {
	switch state {
	case "uploading":
		return "Uploading image and metadata to IPFS"
	case "awaiting_signature":
		return "Waiting for wallet approval"
	case "confirming":
		return "Confirming transaction"
	case "succeeded":
		return "NFT minted"
	case "failed":
		return "Minting failed"
	default:
		return "Ready"
	}
}
