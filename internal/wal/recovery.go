package wal

import "github.com/google/uuid"

// RecoveryResult summarizes the redo/undo work Recover performed.
type RecoveryResult struct {
	RedoneTxns      int
	RedonePages     int
	UndoneTxns      int
	UndonePages     int
	LastCheckpoint  int64
}

type txnState struct {
	began      bool
	committed  bool
	aborted    bool
	postimages []pageImage // in append order, for redo
	preimages  []pageImage // in append order; undo applies in reverse
}

type pageImage struct {
	lsn     int64
	pageID  uint32
	bytes   []byte
}

// Recover scans the journal forward (spec §4.5): for every committed
// transaction not yet covered by a checkpoint, postimages are redone
// to the main file via applyRedo; for every transaction that began and
// has neither a commit nor an abort record, preimages are undone in
// reverse via applyUndo. Aborted transactions are not replayed.
func Recover(j *Journal, applyRedo func(pageID uint32, after []byte) error, applyUndo func(pageID uint32, before []byte) error) (RecoveryResult, error) {
	txns := map[uuid.UUID]*txnState{}
	var lastCheckpoint int64

	err := j.Scan(func(r Record) error {
		switch r.Kind {
		case KindCheckpoint:
			lsn, err := Int64FromBody(r.Body)
			if err != nil {
				return err
			}
			if lsn > lastCheckpoint {
				lastCheckpoint = lsn
			}
			return nil
		case KindTxnBegin:
			txns[r.TxnID] = stateFor(txns, r.TxnID)
			txns[r.TxnID].began = true
			return nil
		case KindPagePreimage:
			pageID, bytes, err := DecodePageImageBody(r.Body)
			if err != nil {
				return err
			}
			st := stateFor(txns, r.TxnID)
			st.preimages = append(st.preimages, pageImage{lsn: r.LSN, pageID: pageID, bytes: bytes})
			txns[r.TxnID] = st
			return nil
		case KindPagePostimage:
			pageID, bytes, err := DecodePageImageBody(r.Body)
			if err != nil {
				return err
			}
			st := stateFor(txns, r.TxnID)
			st.postimages = append(st.postimages, pageImage{lsn: r.LSN, pageID: pageID, bytes: bytes})
			txns[r.TxnID] = st
			return nil
		case KindTxnCommit:
			st := stateFor(txns, r.TxnID)
			st.committed = true
			txns[r.TxnID] = st
			return nil
		case KindTxnAbort:
			st := stateFor(txns, r.TxnID)
			st.aborted = true
			txns[r.TxnID] = st
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return RecoveryResult{}, err
	}

	result := RecoveryResult{LastCheckpoint: lastCheckpoint}

	for _, st := range txns {
		switch {
		case st.committed:
			if commitIsCheckpointed(st, lastCheckpoint) {
				continue
			}
			result.RedoneTxns++
			for _, img := range st.postimages {
				if err := applyRedo(img.pageID, img.bytes); err != nil {
					return result, err
				}
				result.RedonePages++
			}
		case st.began && !st.aborted:
			result.UndoneTxns++
			for i := len(st.preimages) - 1; i >= 0; i-- {
				img := st.preimages[i]
				if err := applyUndo(img.pageID, img.bytes); err != nil {
					return result, err
				}
				result.UndonePages++
			}
		}
	}
	return result, nil
}

func commitIsCheckpointed(st *txnState, lastCheckpoint int64) bool {
	maxLSN := int64(0)
	for _, img := range st.postimages {
		if img.lsn > maxLSN {
			maxLSN = img.lsn
		}
	}
	return maxLSN != 0 && maxLSN <= lastCheckpoint
}

func stateFor(txns map[uuid.UUID]*txnState, id uuid.UUID) *txnState {
	if st, ok := txns[id]; ok {
		return st
	}
	return &txnState{}
}
