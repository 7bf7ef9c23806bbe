package validator

import "errors"

var (
	errNoTransactions    = errors.New("block has no transactions")
	errMissingCoinbase   = errors.New("first transaction is not a coinbase")
	errExtraCoinbase     = errors.New("coinbase transaction found outside first position")
	errDuplicateTx       = errors.New("block contains duplicate transaction hashes")
	errBlockTooLarge     = errors.New("block exceeds maximum serialized size")
	errTooManySigOps     = errors.New("block exceeds maximum signature operations")
	errMerkleMismatch    = errors.New("merkle root does not match transactions")
	errPowMismatch       = errors.New("block hash does not satisfy claimed target")
	errPowUnderflow      = errors.New("claimed target is weaker than the network minimum")
	errVersionBits       = errors.New("block version does not satisfy active soft-fork rules")
	errBadDifficulty     = errors.New("block bits does not match expected difficulty")
	errBadTimestamp      = errors.New("block timestamp is not after median-time-past")
	errTimestampFuture   = errors.New("block timestamp is too far in the future")
	errBadCoinbaseHeight = errors.New("coinbase does not commit to branch height")
	errValueOverflow     = errors.New("transaction outputs exceed inputs")
	errMissingPrevout    = errors.New("referenced previous output could not be resolved")
)
