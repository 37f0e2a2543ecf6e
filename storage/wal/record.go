// Package wal implements the write-ahead log: the on-disk record format,
// the dual-buffer log manager, and the force-log-at-commit discipline the
// rest of the engine depends on (spec.md §3, §4.2).
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ariesdb/storage/common"
)

// ErrIncompleteRecord signals that the buffer handed to Decode doesn't yet
// hold a full record — expected at the tail of the log during recovery's
// scan, not a corruption.
var ErrIncompleteRecord = errors.New("wal: incomplete record")

// Type tags a log record's payload shape.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeBegin
	TypeCommit
	TypeAbort
	TypeNewPage
	TypeInsert
	TypeApplyDelete
	TypeMarkDelete
	TypeRollbackDelete
	TypeUpdate
)

// commonPrefixSize is size(u32) + lsn(u64) + txn_id(u64) + prev_lsn(u64) + type(u8).
const commonPrefixSize = 4 + 8 + 8 + 8 + 1

// Record is one write-ahead log entry (spec.md §3, "Log record"). Not every
// field is meaningful for every Type; Encode/Decode only touch the fields
// the type's payload defines.
type Record struct {
	Size    uint32
	LSN     common.LSN
	TxnID   common.TxnID
	PrevLSN common.LSN
	Type    Type

	// NEWPAGE
	PrevPageID common.PageID
	NewPageID  common.PageID

	// INSERT, APPLYDELETE
	RID        common.RID
	TupleBytes []byte

	// MARKDELETE, ROLLBACKDELETE use RID only.

	// UPDATE
	OldBytes []byte
	NewBytes []byte
}

func payloadSize(r *Record) int {
	switch r.Type {
	case TypeBegin, TypeCommit, TypeAbort:
		return 0
	case TypeNewPage:
		return 8
	case TypeInsert, TypeApplyDelete:
		return common.RidSize + 4 + len(r.TupleBytes)
	case TypeMarkDelete, TypeRollbackDelete:
		return common.RidSize
	case TypeUpdate:
		return common.RidSize + 4 + len(r.OldBytes) + 4 + len(r.NewBytes)
	default:
		return 0
	}
}

// Encode serializes r, filling in r.Size as it goes.
func (r *Record) Encode() []byte {
	r.Size = uint32(commonPrefixSize + payloadSize(r))
	buf := make([]byte, r.Size)

	binary.BigEndian.PutUint32(buf[0:4], r.Size)
	binary.BigEndian.PutUint64(buf[4:12], uint64(r.LSN))
	binary.BigEndian.PutUint64(buf[12:20], uint64(r.TxnID))
	binary.BigEndian.PutUint64(buf[20:28], uint64(r.PrevLSN))
	buf[28] = byte(r.Type)

	off := commonPrefixSize
	switch r.Type {
	case TypeNewPage:
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(r.PrevPageID))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(r.NewPageID))
	case TypeInsert, TypeApplyDelete:
		common.PutRID(buf[off:off+common.RidSize], r.RID)
		off += common.RidSize
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r.TupleBytes)))
		off += 4
		copy(buf[off:], r.TupleBytes)
	case TypeMarkDelete, TypeRollbackDelete:
		common.PutRID(buf[off:off+common.RidSize], r.RID)
	case TypeUpdate:
		common.PutRID(buf[off:off+common.RidSize], r.RID)
		off += common.RidSize
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r.OldBytes)))
		off += 4
		copy(buf[off:], r.OldBytes)
		off += len(r.OldBytes)
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r.NewBytes)))
		off += 4
		copy(buf[off:], r.NewBytes)
	}
	return buf
}

// Decode parses a record from the front of buf. The returned record's Size
// field is the number of bytes it occupies, so the caller can advance to
// the next record.
func Decode(buf []byte) (*Record, error) {
	if len(buf) < commonPrefixSize {
		return nil, ErrIncompleteRecord
	}

	r := &Record{
		Size:    binary.BigEndian.Uint32(buf[0:4]),
		LSN:     common.LSN(binary.BigEndian.Uint64(buf[4:12])),
		TxnID:   common.TxnID(binary.BigEndian.Uint64(buf[12:20])),
		PrevLSN: common.LSN(binary.BigEndian.Uint64(buf[20:28])),
		Type:    Type(buf[28]),
	}

	if r.Size < commonPrefixSize || r.LSN == common.InvalidLSN || r.Type == TypeInvalid {
		return nil, common.NewCorruptionError("malformed log record header")
	}
	if uint32(len(buf)) < r.Size {
		return nil, ErrIncompleteRecord
	}

	off := commonPrefixSize
	switch r.Type {
	case TypeBegin, TypeCommit, TypeAbort:
	case TypeNewPage:
		r.PrevPageID = common.PageID(binary.BigEndian.Uint32(buf[off : off+4]))
		r.NewPageID = common.PageID(binary.BigEndian.Uint32(buf[off+4 : off+8]))
	case TypeInsert, TypeApplyDelete:
		r.RID = common.ReadRID(buf[off : off+common.RidSize])
		off += common.RidSize
		n := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		r.TupleBytes = append([]byte(nil), buf[off:off+n]...)
	case TypeMarkDelete, TypeRollbackDelete:
		r.RID = common.ReadRID(buf[off : off+common.RidSize])
	case TypeUpdate:
		r.RID = common.ReadRID(buf[off : off+common.RidSize])
		off += common.RidSize
		oldN := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		r.OldBytes = append([]byte(nil), buf[off:off+oldN]...)
		off += oldN
		newN := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		r.NewBytes = append([]byte(nil), buf[off:off+newN]...)
	default:
		return nil, common.NewCorruptionError(fmt.Sprintf("unknown log record type %d", r.Type))
	}
	return r, nil
}
