package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dirserve/idlstore/internal/kv"
	"github.com/dirserve/idlstore/internal/types"
)

// backupFile is the pretty-printed, schema-annotated textual form a
// backup is written as. Payload is base64-wrapped so arbitrary binary
// entry payloads round-trip through YAML's text-oriented codec.
type backupFile struct {
	Version int           `yaml:"version"`
	Entries []backupEntry `yaml:"entries"`
}

type backupEntry struct {
	ID      uint64 `yaml:"id"`
	Payload string `yaml:"payload"` // base64
}

const backupFormatVersion = 1

// Backup reads every entry and writes a pretty-printed YAML snapshot to
// path.
func (b *Backend) Backup(ctx context.Context, path string) error {
	ctx, span, end := b.tracer.Start(ctx, "backup")
	defer end()

	rt, err := b.pool.BeginRead(ctx)
	if err != nil {
		b.fail(span, err)
		return err
	}
	defer rt.Close(ctx)

	entries, err := kv.ReadEntries(ctx, rt.Q(), kv.AllEntries())
	if err != nil {
		b.fail(span, err)
		return err
	}

	bf := backupFile{Version: backupFormatVersion, Entries: make([]backupEntry, len(entries))}
	for i, e := range entries {
		bf.Entries[i] = backupEntry{ID: e.ID, Payload: base64.StdEncoding.EncodeToString(e.Payload)}
	}

	data, err := yaml.Marshal(bf)
	if err != nil {
		err = fmt.Errorf("backup: %w: %w", types.ErrSerialisationError, err)
		b.fail(span, err)
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		err = fmt.Errorf("backup: %w: %w", types.ErrFsError, err)
		b.fail(span, err)
		return err
	}
	return nil
}

// Restore reads path, purges the entry table, assigns fresh monotone ids
// starting from 1, writes the restored entries, triggers a full reindex,
// and runs Verify. A non-empty Verify result is surfaced as a
// types.ConsistencyErrors error: per spec.md §8 invariant 4, a correct
// restore must leave the store internally consistent.
func (b *Backend) Restore(ctx context.Context, path string) error {
	ctx, span, end := b.tracer.Start(ctx, "restore")
	defer end()

	raw, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("restore: %w: %w", types.ErrFsError, err)
		b.fail(span, err)
		return err
	}

	var bf backupFile
	if err := yaml.Unmarshal(raw, &bf); err != nil {
		err = fmt.Errorf("restore: %w: %w", types.ErrSerialisationError, err)
		b.fail(span, err)
		return err
	}

	wt, err := b.pool.BeginWrite(ctx, b.idxMeta())
	if err != nil {
		b.fail(span, err)
		return err
	}

	if err := kv.PurgeEntryTable(ctx, wt.Q()); err != nil {
		wt.Close(ctx)
		b.fail(span, err)
		return err
	}

	restored := make([]*types.Entry, len(bf.Entries))
	for i, be := range bf.Entries {
		payload, err := base64.StdEncoding.DecodeString(be.Payload)
		if err != nil {
			wt.Close(ctx)
			err = fmt.Errorf("restore: %w", &types.CorruptedEntryError{ID: be.ID})
			b.fail(span, err)
			return err
		}
		restored[i] = &types.Entry{ID: uint64(i + 1), Payload: payload}
	}

	if len(restored) > 0 {
		if err := kv.WriteEntries(ctx, wt.Q(), restored); err != nil {
			wt.Close(ctx)
			b.fail(span, err)
			return err
		}
	}

	if err := wt.Commit(ctx); err != nil {
		wt.Close(ctx)
		b.fail(span, err)
		return err
	}
	wt.Close(ctx)

	if err := b.Reindex(ctx); err != nil {
		b.fail(span, err)
		return err
	}

	errs, err := b.Verify(ctx)
	if err != nil {
		b.fail(span, err)
		return err
	}
	if len(errs) > 0 {
		b.fail(span, errs)
		return errs
	}
	return nil
}
