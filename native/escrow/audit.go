package escrow

import (
	"fmt"
	"math/big"
	"sort"

	"vaultix/observability"
)

// MaxAuditBatch bounds the number of explicit ids accepted by Audit.
const MaxAuditBatch = 50

// AuditFinding describes one inconsistency found on an escrow record.
type AuditFinding struct {
	EscrowID uint64 `json:"escrowId"`
	Check    string `json:"check"`
	Detail   string `json:"detail"`
}

// CustodyMismatch reports a token whose vault balance differs from the sum
// still owed by funded, undisbursed escrows.
type CustodyMismatch struct {
	Token    string   `json:"token"`
	Expected *big.Int `json:"expected"`
	Actual   *big.Int `json:"actual"`
}

// AuditReport is the result of an Audit run.
type AuditReport struct {
	Checked  []uint64          `json:"checked"`
	Missing  []uint64          `json:"missing,omitempty"`
	Findings []AuditFinding    `json:"findings,omitempty"`
	Custody  []CustodyMismatch `json:"custody,omitempty"`
}

// Healthy reports whether the audit found nothing wrong.
func (r *AuditReport) Healthy() bool {
	return r != nil && len(r.Missing) == 0 && len(r.Findings) == 0 && len(r.Custody) == 0
}

// Audit cross-checks escrow accounting. With no ids every indexed escrow is
// inspected and vault custody is reconciled against the ledger; explicit id
// lists skip the custody check since the sum would be partial.
func (e *Engine) Audit(ids []uint64) (*AuditReport, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(ids) > MaxAuditBatch {
		return nil, ErrAuditBatchTooLarge
	}
	report := &AuditReport{}
	err := e.state.View(func() error {
		reg := e.registry()
		targets := ids
		full := len(ids) == 0
		if full {
			all, err := reg.ids()
			if err != nil {
				return err
			}
			targets = all
		}
		owed := make(map[string]*big.Int)
		for _, id := range targets {
			esc, ok, err := e.state.EscrowGet(id)
			if err != nil {
				return fmt.Errorf("escrow: audit load %d: %w", id, err)
			}
			if !ok {
				report.Missing = append(report.Missing, id)
				continue
			}
			report.Checked = append(report.Checked, id)
			report.Findings = append(report.Findings, auditEscrow(esc)...)
			if esc.Funded && (esc.Status == EscrowActive || esc.Status == EscrowDisputed) {
				sum, ok := owed[esc.Token]
				if !ok {
					sum = big.NewInt(0)
					owed[esc.Token] = sum
				}
				sum.Add(sum, esc.Remaining())
			}
		}
		if !full || e.ledger == nil {
			return nil
		}
		for token := range e.tokens {
			if _, ok := owed[token]; !ok {
				owed[token] = big.NewInt(0)
			}
		}
		tokens := make([]string, 0, len(owed))
		for token := range owed {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			actual, err := e.ledger.Balance(token, e.vault)
			if err != nil {
				return fmt.Errorf("escrow: audit vault balance %s: %w", token, err)
			}
			if actual.Cmp(owed[token]) != 0 {
				report.Custody = append(report.Custody, CustodyMismatch{Token: token, Expected: owed[token], Actual: actual})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics := observability.EscrowMetrics()
	for _, finding := range report.Findings {
		metrics.RecordAuditFinding(finding.Check)
	}
	for range report.Custody {
		metrics.RecordAuditFinding("custody")
	}
	return report, nil
}

// AuditRange audits the contiguous ids fromID..toID inclusive under the same
// batch cap as Audit. Ids that were never created are reported as missing.
func (e *Engine) AuditRange(fromID, toID uint64) (*AuditReport, error) {
	if fromID > toID {
		return nil, ErrInvalidAuditRange
	}
	if toID-fromID >= MaxAuditBatch {
		return nil, ErrAuditBatchTooLarge
	}
	ids := make([]uint64, 0, toID-fromID+1)
	for id := fromID; ; id++ {
		ids = append(ids, id)
		if id == toID {
			break
		}
	}
	return e.Audit(ids)
}

func auditEscrow(esc *Escrow) []AuditFinding {
	var findings []AuditFinding
	add := func(check, format string, args ...any) {
		findings = append(findings, AuditFinding{EscrowID: esc.ID, Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	sum := big.NewInt(0)
	released := big.NewInt(0)
	for _, m := range esc.Milestones {
		sum.Add(sum, m.Amount)
		if m.Status == MilestoneReleased {
			released.Add(released, m.Amount)
		}
	}
	if sum.Cmp(esc.TotalAmount) != 0 {
		add("total", "total %s differs from milestone sum %s", esc.TotalAmount, sum)
	}
	if esc.TotalReleased.Sign() < 0 || esc.TotalReleased.Cmp(esc.TotalAmount) > 0 {
		add("released_bounds", "released %s outside [0, %s]", esc.TotalReleased, esc.TotalAmount)
	}

	switch esc.Status {
	case EscrowCreated:
		if esc.Funded || esc.TotalReleased.Sign() != 0 {
			add("created", "created escrow holds custody or released funds")
		}
	case EscrowActive, EscrowDisputed, EscrowCompleted:
		if !esc.Funded {
			add("funded", "%s escrow was never funded", esc.Status)
		}
		if released.Cmp(esc.TotalReleased) != 0 {
			add("released", "released %s differs from released milestones %s", esc.TotalReleased, released)
		}
		if esc.Status == EscrowCompleted && !esc.AllReleased() {
			add("completed", "completed escrow has unreleased milestones")
		}
	case EscrowCancelled, EscrowExpired:
		if esc.Funded && esc.TotalReleased.Cmp(esc.TotalAmount) != 0 {
			add("disbursed", "%s escrow retains %s in custody", esc.Status, esc.Remaining())
		}
	case EscrowResolved:
		if esc.Resolution == ResolutionNone {
			add("resolution", "resolved escrow has no resolution")
		}
		if esc.Resolution == ResolutionRecipient && esc.TotalReleased.Cmp(esc.TotalAmount) != 0 {
			add("disbursed", "recipient resolution retains %s in custody", esc.Remaining())
		}
	}
	return findings
}
