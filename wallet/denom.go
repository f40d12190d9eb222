package wallet

import (
	"sort"

	"github.com/gocashu/wallet/cashu"
)

// selectProofsForAmount picks a subset of proofs covering at least target.
// It tries an exact single-proof match first, then falls greedy-descending
// by amount without exceeding target, and finally — if no combination sums
// exactly to target — returns the smallest superset it can find so the
// caller can swap for exact change. Proofs are tried in the order given, so
// callers that want inactive-keyset proofs spent before active ones should
// sort for that before calling.
func selectProofsForAmount(proofs cashu.Proofs, target uint64) (cashu.Proofs, cashu.Proofs, error) {
	if target == 0 {
		return cashu.Proofs{}, proofs, nil
	}

	if proofs.Amount() < target {
		return nil, nil, ErrBalanceInsufficient
	}

	for i, proof := range proofs {
		if proof.Amount == target {
			selected := cashu.Proofs{proof}
			remaining := make(cashu.Proofs, 0, len(proofs)-1)
			remaining = append(remaining, proofs[:i]...)
			remaining = append(remaining, proofs[i+1:]...)
			return selected, remaining, nil
		}
	}

	ordered := make(cashu.Proofs, len(proofs))
	copy(ordered, proofs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Amount > ordered[j].Amount
	})

	selected := cashu.Proofs{}
	remaining := cashu.Proofs{}
	var sum uint64
	for _, proof := range ordered {
		if sum < target {
			selected = append(selected, proof)
			sum += proof.Amount
		} else {
			remaining = append(remaining, proof)
		}
	}

	// greedy descending didn't reach target exactly or at all (possible when
	// the available denominations can't add up without overshoot): fall back
	// to taking proofs ascending until the sum covers target, minimizing the
	// overshoot while guaranteeing coverage.
	if sum < target {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Amount < ordered[j].Amount
		})
		selected = cashu.Proofs{}
		remaining = cashu.Proofs{}
		sum = 0
		for _, proof := range ordered {
			if sum < target {
				selected = append(selected, proof)
				sum += proof.Amount
			} else {
				remaining = append(remaining, proof)
			}
		}
	}

	return selected, remaining, nil
}

// sortProofsInactiveFirst orders proofs so that ones belonging to an
// inactive keyset are spent before active-keyset proofs, since only active
// keysets may sign new outputs and inactive-keyset change should be
// retired first. Within each group, larger amounts sort first.
func sortProofsInactiveFirst(proofs cashu.Proofs, activeKeysetId string) cashu.Proofs {
	ordered := make(cashu.Proofs, len(proofs))
	copy(ordered, proofs)
	sort.SliceStable(ordered, func(i, j int) bool {
		iActive := ordered[i].Id == activeKeysetId
		jActive := ordered[j].Id == activeKeysetId
		if iActive != jActive {
			return jActive
		}
		return ordered[i].Amount > ordered[j].Amount
	})
	return ordered
}

// blankOutputCount returns the number of NUT-08 blank outputs to attach to
// a melt request so the mint can return unspent fee-reserve as change:
// max(ceil(log2(feeReserve)), 1). A zero fee reserve still gets one blank
// output so the melt path doesn't need a separate no-change branch.
func blankOutputCount(feeReserve uint64) int {
	if feeReserve == 0 {
		return 1
	}
	count := 0
	for amount := uint64(1); amount < feeReserve; amount <<= 1 {
		count++
	}
	if count < 1 {
		count = 1
	}
	return count
}
