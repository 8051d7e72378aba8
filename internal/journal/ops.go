package journal

import (
	"context"
	"fmt"
)

// Kind names the memory mutation an op records.
type Kind string

const (
	// KindInsert is a fresh channel block written into device memory.
	KindInsert Kind = "insert"

	// KindDelete is a channel block freed from device memory.
	KindDelete Kind = "delete"

	// KindRewrite is a channel block moved to a new offset during
	// defragmentation.
	KindRewrite Kind = "rewrite"
)

// Op is one ledger entry: a single channel block mutation on one device.
type Op struct {
	// ID is the ledger position, assigned on insert.
	ID int64

	// Token is the idempotency key. Recording an op whose token is already
	// in the ledger is a silent no-op.
	Token string

	Kind     Kind
	Device   string
	Sequence string
	Channel  int

	// OffsetBytes and LengthBytes describe the affected byte range of the
	// device's sample memory. Deletes record the range they freed.
	OffsetBytes int64
	LengthBytes int64
}

// Record appends a batch of ops in a single transaction. The batch commits
// or rolls back as a whole; ops whose token is already present are skipped.
func (j *Journal) Record(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record ops: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, op := range ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_ops
			(token, kind, device, sequence_name, channel, offset_bytes, length_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(token) DO NOTHING
		`,
			op.Token,
			string(op.Kind),
			op.Device,
			op.Sequence,
			op.Channel,
			op.OffsetBytes,
			op.LengthBytes,
		)
		if err != nil {
			return fmt.Errorf("record op %q: %w", op.Token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record ops: commit: %w", err)
	}

	return nil
}

// List returns the full ledger in replay order.
//
// Returns an empty slice (not nil) for an empty ledger.
func (j *Journal) List(ctx context.Context) ([]Op, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, token, kind, device, sequence_name, channel, offset_bytes, length_bytes
		FROM memory_ops
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var op Op
		var kind string
		if err := rows.Scan(
			&op.ID, &op.Token, &kind, &op.Device, &op.Sequence,
			&op.Channel, &op.OffsetBytes, &op.LengthBytes,
		); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		op.Kind = Kind(kind)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}

	if ops == nil {
		ops = []Op{}
	}

	return ops, nil
}
