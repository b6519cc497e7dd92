package store

import (
	"fmt"

	"github.com/atmx/outcome-engine/internal/model"
)

// Composite keys shared by the in-memory store and the Redis cache.

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func poolKey(market string) string { return fmt.Sprintf("pool:%s", market) }

func tradeKey(market string, idx uint64) string {
	return fmt.Sprintf("trade:%s:%d", market, idx)
}

func sharesKey(holder, market string, o model.Outcome) string {
	return fmt.Sprintf("shares:%s:%s:%d", holder, market, o)
}

func oracleKey(id string) string { return fmt.Sprintf("oracle:%s", id) }

func resolutionKey(market string) string { return fmt.Sprintf("resolution:%s", market) }

func attestationKey(market, oracle string) string {
	return fmt.Sprintf("attestation:%s:%s", market, oracle)
}

const thresholdKey = "oracle_config:threshold"
