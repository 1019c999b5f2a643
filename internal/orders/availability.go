package orders

import (
	"context"
	"fmt"
)

// ReconcileAvailability recomputes the partner's derived availability
// flag: available iff no order assigned to them is currently in
// partner_assigned or out_for_delivery. Idempotent and safe to call
// redundantly after every assignment, completion or cancellation.
func (m *Machine) ReconcileAvailability(ctx context.Context, partnerID string) error {
	busy, err := m.store.ExistsActiveForPartner(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("failed to check active orders for partner %s: %w", partnerID, err)
	}
	if err := m.partners.SetAvailability(ctx, partnerID, !busy); err != nil {
		return fmt.Errorf("failed to set availability for partner %s: %w", partnerID, err)
	}
	return nil
}
