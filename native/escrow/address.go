package escrow

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// contractNamespace is the fixed tag mixed into every contract address so no
// other keyspace can collide with contract records.
var contractNamespace = []byte("payguard/contract")

// ContractAddress deterministically derives the storage address of a contract
// from the creator identity and the caller-chosen ID. Re-deriving the same
// inputs always yields the same address; the keccak256 pre-image structure
// prevents any other (creator, id) pair from producing it.
func ContractAddress(creator [20]byte, id uint64) [32]byte {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	return ethcrypto.Keccak256Hash(contractNamespace, creator[:], idBytes[:])
}
