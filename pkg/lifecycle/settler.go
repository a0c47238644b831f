// Package lifecycle drives a payment intent from creation to a terminal
// status. It records the correct status and side effects (ledger entries,
// agent counters) at each transition; the actual movement of funds belongs to
// the external Settler collaborator.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tessara-labs/payguard/pkg/contracts"
	"github.com/tessara-labs/payguard/pkg/route"
)

// Settler is the external settlement collaborator. Implementations must
// respect ctx cancellation; the manager bounds the call with the caller's
// context and surfaces failure as a terminal failed status, never a retry.
type Settler interface {
	Settle(ctx context.Context, tx contracts.Transaction, r route.Route) (settlementHash string, err error)
}

// SimulatedSettler settles instantly with a deterministic pseudo-hash. Used
// in tests and local runs where no chain is attached.
type SimulatedSettler struct {
	// Fail, when set, makes every settlement fail with this message.
	Fail string
}

func (s *SimulatedSettler) Settle(ctx context.Context, tx contracts.Transaction, r route.Route) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Fail != "" {
		return "", fmt.Errorf("simulated settlement failure: %s", s.Fail)
	}
	sum := sha256.Sum256([]byte(tx.ID + ":" + string(r.Kind)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}
