package mint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source records where an identifier in the outcome came from.
type Source string

const (
	SourceOutcomeID Source = "transaction_outcome.id"
	SourceTxHash    Source = "transaction.hash"
	SourceGenerated Source = "generated"
)

type providerResult struct {
	Transaction *struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
	TransactionOutcome *struct {
		ID string `json:"id"`
	} `json:"transaction_outcome"`
}

type parsedResult struct {
	TokenID         string
	TokenIDSource   Source
	TransactionHash string
	HashSource      Source
}

// parseResult extracts identifiers from a provider response whose shape is
// not guaranteed. Order:
//
//	tokenId: transaction_outcome.id, then nft_<unix ms>
//	hash:    transaction.hash, then transaction_outcome.id, then tx_<unix ms>
//
// A response that is not a JSON object counts as carrying neither field.
func parseResult(raw json.RawMessage, now time.Time) parsedResult {
	var res providerResult
	_ = json.Unmarshal(raw, &res)

	var outcomeID, txHash string
	if res.TransactionOutcome != nil {
		outcomeID = res.TransactionOutcome.ID
	}
	if res.Transaction != nil {
		txHash = res.Transaction.Hash
	}

	var out parsedResult
	switch {
	case outcomeID != "":
		out.TokenID, out.TokenIDSource = outcomeID, SourceOutcomeID
	default:
		out.TokenID, out.TokenIDSource = fmt.Sprintf("nft_%d", now.UnixMilli()), SourceGenerated
	}
	switch {
	case txHash != "":
		out.TransactionHash, out.HashSource = txHash, SourceTxHash
	case outcomeID != "":
		out.TransactionHash, out.HashSource = outcomeID, SourceOutcomeID
	default:
		out.TransactionHash, out.HashSource = fmt.Sprintf("tx_%d", now.UnixMilli()), SourceGenerated
	}
	return out
}
