package lifecycle

import (
	"github.com/omni/vault-custody/entity"
)

// QuorumStatus derives the transaction status from witness counts.
// Success and cancellation are never derived here.
func QuorumStatus(done, rejected, total, minSigners uint) entity.TransactionStatus {
	if done >= minSigners {
		return entity.TransactionPendingSender
	}
	if rejected > total || total-rejected < minSigners {
		return entity.TransactionFailed
	}
	return entity.TransactionAwaitRequirements
}

func ComputeStatus(witnesses []*entity.Witness, minSigners uint) entity.TransactionStatus {
	var done, rejected uint
	for _, w := range witnesses {
		switch w.Status {
		case entity.WitnessDone:
			done++
		case entity.WitnessRejected:
			rejected++
		}
	}
	return QuorumStatus(done, rejected, uint(len(witnesses)), minSigners)
}
