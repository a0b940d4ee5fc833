package auditchain

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// EnsureGenesis writes the CHAIN_GENESIS entry if the chain is empty. It is
// idempotent: when a genesis entry already exists it is returned with created
// set to false. It runs on the writer goroutine, so it cannot race with appends.
func (a *Appender) EnsureGenesis(ctx context.Context) (entry *Entry, created bool, err error) {
	res, err := a.submit(ctx, request{ctx: ctx, genesis: true})
	if err != nil {
		return nil, false, err
	}
	return res.entry, res.created, res.err
}

func (a *Appender) writeGenesis(ctx context.Context) result {
	if a.initialized {
		g, err := a.findGenesis(ctx)
		return result{entry: g, err: err}
	}

	e := &Entry{
		Timestamp:     normalizeTime(timeNow()),
		UserPrincipal: SystemPrincipal,
		Action:        ActionChainGenesis,
		PreviousHash:  a.hasher.Sentinel(),
	}
	hash, err := a.hasher.EntryHash(e, e.PreviousHash)
	if err != nil {
		return result{err: err}
	}
	e.Hash = hash

	if err := a.insert(ctx, e); err != nil {
		if errors.Is(err, ErrGenesisExists) {
			// Another process initialised the chain first.
			if lerr := a.loadTail(ctx); lerr != nil {
				return result{err: lerr}
			}
			g, ferr := a.findGenesis(ctx)
			return result{entry: g, err: ferr}
		}
		return result{err: storageErr("genesis", err)}
	}

	a.tail, a.initialized = e.Hash, true
	a.logger.Info("audit chain genesis entry created",
		zap.Int64("id", e.ID),
		zap.String("hash", e.Hash),
		zap.String("algorithm", a.hasher.Algorithm()),
	)
	return result{entry: e, created: true}
}

func (a *Appender) findGenesis(ctx context.Context) (*Entry, error) {
	found, err := a.store.Find(ctx, Filter{Action: ActionChainGenesis, Limit: 1})
	if err != nil {
		return nil, storageErr("find genesis", err)
	}
	if len(found) == 0 {
		// The chain has entries but no genesis row; verification will report it.
		a.logger.Warn("audit chain has entries but no genesis entry")
		return nil, nil
	}
	return found[0], nil
}
