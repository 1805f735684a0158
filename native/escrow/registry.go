package escrow

import "fmt"

// registry is the id → escrow mapping. It is only used from inside an engine
// session, so reads observe writes staged earlier in the same call.
type registry struct {
	state engineState
}

func (r registry) exists(id uint64) (bool, error) {
	_, ok, err := r.state.EscrowGet(id)
	return ok, err
}

func (r registry) get(id uint64) (*Escrow, error) {
	esc, ok, err := r.state.EscrowGet(id)
	if err != nil {
		return nil, fmt.Errorf("escrow: load %d: %w", id, err)
	}
	if !ok || esc == nil {
		return nil, fmt.Errorf("%w: %d", ErrEscrowNotFound, id)
	}
	return esc, nil
}

// insert stores a new record and appends it to the index. Ids are never
// reused, even after the escrow reached a terminal state.
func (r registry) insert(esc *Escrow) error {
	ok, err := r.exists(esc.ID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %d", ErrDuplicateEscrowID, esc.ID)
	}
	if err := r.state.EscrowPut(esc); err != nil {
		return err
	}
	return r.state.EscrowIndexAppend(esc.ID)
}

func (r registry) put(esc *Escrow) error {
	return r.state.EscrowPut(esc)
}

func (r registry) ids() ([]uint64, error) {
	return r.state.EscrowIndex()
}
