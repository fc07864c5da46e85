package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", hexMeddler[common.Hash]{decode: common.HexToHash})
	meddler.Register("address", hexMeddler[common.Address]{decode: common.HexToAddress})
}

// hexStringer covers the go-ethereum fixed-size byte types stored as hex text.
type hexStringer interface {
	comparable
	Hex() string
}

// hexMeddler converts between a go-ethereum hash/address value and its hex
// string column. NULL columns map to the zero value (or a nil pointer).
type hexMeddler[T hexStringer] struct {
	decode func(string) T
}

func (m hexMeddler[T]) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (m hexMeddler[T]) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		value := m.decode(ns.String)
		*ptr = &value
		return nil
	case *T:
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.decode(ns.String)
		return nil
	default:
		return fmt.Errorf("unsupported field type %T", fieldAddr)
	}
}

func (m hexMeddler[T]) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *T:
		if v == nil {
			return nil, nil
		}
		return (*v).Hex(), nil
	case T:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("unsupported field type %T", field)
	}
}
