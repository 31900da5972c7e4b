package turnout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-xnet/store"
	"github.com/fxamacker/cbor/v2"
)

const rosterPrefix = "turnout/"

// Record is the persisted configuration of one turnout. The position itself
// is not stored; it is read back from the layout on start.
type Record struct {
	Address  int          `cbor:"1,keyasint"`
	Mode     FeedbackMode `cbor:"2,keyasint"`
	Inverted bool         `cbor:"3,keyasint"`
}

func rosterKey(address int) string {
	return rosterPrefix + strconv.Itoa(address)
}

func rosterAddress(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, rosterPrefix))
	return n, err == nil
}

// LoadRecord reads the record for address. ok is false when none is stored.
func LoadRecord(ctx context.Context, s store.Store, address int) (rec Record, ok bool, err error) {
	data, err := s.Load(ctx, rosterKey(address))
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("turnout: decode roster record %d: %w", address, err)
	}

	if !rec.Mode.Valid() {
		return Record{}, false, fmt.Errorf("turnout: roster record %d: %w: %d", address, ErrInvalidMode, rec.Mode)
	}

	return rec, true, nil
}

// SaveRecord writes rec under its address.
func SaveRecord(ctx context.Context, s store.Store, rec Record) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("turnout: encode roster record %d: %w", rec.Address, err)
	}

	return s.Save(ctx, rosterKey(rec.Address), data)
}

// RosterAddresses lists the addresses that have a stored record.
func RosterAddresses(ctx context.Context, s store.Store) ([]int, error) {
	keys, err := s.Keys(ctx, rosterPrefix)
	if err != nil {
		return nil, err
	}

	addrs := make([]int, 0, len(keys))
	for _, k := range keys {
		if n, ok := rosterAddress(k); ok {
			addrs = append(addrs, n)
		}
	}

	return addrs, nil
}

func (t *Turnout) record() Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Record{Address: t.address, Mode: t.mode, Inverted: t.inverted}
}
