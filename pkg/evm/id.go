package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const hashPrefixLen = 5

// FormatBlockID builds the stable primary key for a block: the zero-padded
// height joined with a short prefix of the block hash.
func FormatBlockID(height uint64, hash common.Hash) string {
	return fmt.Sprintf("%010d-%s", height, shortHash(hash))
}

// FormatItemID builds the stable primary key for an item within a block.
func FormatItemID(height uint64, hash common.Hash, index uint) string {
	return fmt.Sprintf("%010d-%s-%06d", height, shortHash(hash), index)
}

func shortHash(hash common.Hash) string {
	hex := hash.Hex()
	return hex[2 : 2+hashPrefixLen]
}
