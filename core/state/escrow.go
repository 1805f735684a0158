package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"vaultix/native/escrow"
)

type storedMilestone struct {
	Amount      *big.Int
	Status      uint8
	Description string
}

type storedEscrow struct {
	ID            uint64
	Depositor     [20]byte
	Recipient     [20]byte
	Token         string
	Milestones    []storedMilestone
	TotalAmount   *big.Int
	TotalReleased *big.Int
	Status        uint8
	Resolution    uint8
	Funded        bool
	Deadline      uint64
	CreatedAt     uint64
}

type storedEscrowConfig struct {
	Admin    [20]byte
	Treasury [20]byte
	FeeBps   uint32
	Paused   bool
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	stored := &storedEscrow{
		ID:            e.ID,
		Depositor:     e.Depositor,
		Recipient:     e.Recipient,
		Token:         e.Token,
		Milestones:    make([]storedMilestone, len(e.Milestones)),
		TotalAmount:   new(big.Int).Set(e.TotalAmount),
		TotalReleased: new(big.Int).Set(e.TotalReleased),
		Status:        uint8(e.Status),
		Resolution:    uint8(e.Resolution),
		Funded:        e.Funded,
		Deadline:      uint64(e.Deadline),
		CreatedAt:     uint64(e.CreatedAt),
	}
	for i, m := range e.Milestones {
		stored.Milestones[i] = storedMilestone{
			Amount:      new(big.Int).Set(m.Amount),
			Status:      uint8(m.Status),
			Description: m.Description,
		}
	}
	return stored
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	out := &escrow.Escrow{
		ID:            s.ID,
		Depositor:     s.Depositor,
		Recipient:     s.Recipient,
		Token:         s.Token,
		Milestones:    make([]*escrow.Milestone, len(s.Milestones)),
		TotalAmount:   bigOrZero(s.TotalAmount),
		TotalReleased: bigOrZero(s.TotalReleased),
		Status:        escrow.EscrowStatus(s.Status),
		Resolution:    escrow.Resolution(s.Resolution),
		Funded:        s.Funded,
		Deadline:      int64(s.Deadline),
		CreatedAt:     int64(s.CreatedAt),
	}
	for i, m := range s.Milestones {
		out.Milestones[i] = &escrow.Milestone{
			Amount:      bigOrZero(m.Amount),
			Status:      escrow.MilestoneStatus(m.Status),
			Description: m.Description,
		}
	}
	return out
}

func escrowRecordKey(id uint64) []byte {
	buf := make([]byte, len(escrowRecordPrefix)+8)
	copy(buf, escrowRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowRecordPrefix):], id)
	return buf
}

// EscrowPut validates and persists the escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.KVPut(escrowRecordKey(sanitized.ID), newStoredEscrow(sanitized))
}

// EscrowGet loads the escrow identified by id. The boolean reports presence.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(escrowRecordKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toEscrow(), true, nil
}

func escrowIndexEntryKey(pos uint64) []byte {
	key := make([]byte, len(escrowIndexPrefix)+8)
	copy(key, escrowIndexPrefix)
	binary.BigEndian.PutUint64(key[len(escrowIndexPrefix):], pos)
	return key
}

func (m *Manager) escrowIndexLen() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(escrowIndexKey, &count); err != nil {
		return 0, fmt.Errorf("state: escrow index length: %w", err)
	}
	return count, nil
}

// EscrowIndexAppend records id at the next position of the creation-ordered
// escrow index. The registry guarantees id was never appended before.
func (m *Manager) EscrowIndexAppend(id uint64) error {
	count, err := m.escrowIndexLen()
	if err != nil {
		return err
	}
	if err := m.KVPut(escrowIndexEntryKey(count), id); err != nil {
		return err
	}
	return m.KVPut(escrowIndexKey, count+1)
}

// EscrowIndex returns every escrow id in creation order.
func (m *Manager) EscrowIndex() ([]uint64, error) {
	count, err := m.escrowIndexLen()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, count)
	for pos := uint64(0); pos < count; pos++ {
		var id uint64
		ok, err := m.KVGet(escrowIndexEntryKey(pos), &id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: escrow index entry %d missing", pos)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EscrowConfigPut persists the contract configuration.
func (m *Manager) EscrowConfigPut(cfg *escrow.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil escrow config")
	}
	return m.KVPut(escrowConfigKey, &storedEscrowConfig{
		Admin:    cfg.Admin,
		Treasury: cfg.Treasury,
		FeeBps:   cfg.FeeBps,
		Paused:   cfg.Paused,
	})
}

// EscrowConfigGet loads the contract configuration. The boolean is false until
// the contract has been initialised.
func (m *Manager) EscrowConfigGet() (*escrow.Config, bool, error) {
	var stored storedEscrowConfig
	ok, err := m.KVGet(escrowConfigKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &escrow.Config{
		Admin:    stored.Admin,
		Treasury: stored.Treasury,
		FeeBps:   stored.FeeBps,
		Paused:   stored.Paused,
	}, true, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
