package utils

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// GenerateUUID generates a new UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// NormalizeAddress validates a hex account address and returns its lower-case 0x form
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// NormalizeHash validates a 32-byte hex hash and returns its lower-case 0x form
func NormalizeHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	raw := strings.TrimPrefix(strings.TrimPrefix(hash, "0x"), "0X")
	if len(raw) != 2*common.HashLength {
		return "", fmt.Errorf("invalid hash %q: expected %d hex characters", hash, 2*common.HashLength)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", hash, err)
	}
	return strings.ToLower(common.HexToHash(raw).Hex()), nil
}

// TransactionHash derives the content hash of a transaction from the fields
// that identify its content: initiator, nonce, fee and payload.
func TransactionHash(initiator string, nonce uint64, gasLimit, maxFeePerGas, maxPriorityFeePerGas, gasPerPubdata uint64, payload []byte) string {
	buf := make([]byte, 0, common.AddressLength+5*8+len(payload))
	buf = append(buf, common.HexToAddress(initiator).Bytes()...)
	for _, n := range []uint64{nonce, gasLimit, maxFeePerGas, maxPriorityFeePerGas, gasPerPubdata} {
		buf = binary.BigEndian.AppendUint64(buf, n)
	}
	buf = append(buf, payload...)
	return strings.ToLower(crypto.Keccak256Hash(buf).Hex())
}

// ParseInt32List parses a comma separated list of integers, skipping blanks
func ParseInt32List(value string) ([]int32, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	result := make([]int32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		result = append(result, int32(n))
	}
	return RemoveDuplicate(result), nil
}

// FromUnixMillis converts milliseconds since epoch to a UTC time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// RemoveDuplicate removes duplicates from slice, keeping first occurrences
func RemoveDuplicate[T comparable](slice []T) []T {
	keys := make(map[T]bool, len(slice))
	result := make([]T, 0, len(slice))

	for _, item := range slice {
		if !keys[item] {
			keys[item] = true
			result = append(result, item)
		}
	}

	return result
}
