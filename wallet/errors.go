package wallet

import "errors"

// Cryptographic
var (
	ErrInvalidPoint          = errors.New("invalid curve point")
	ErrHashToCurveFailed     = errors.New("hash to curve failed")
	ErrBlindingFailed        = errors.New("blinding operation failed")
	ErrUnblindingFailed      = errors.New("unblinding operation failed")
	ErrDleqVerificationFailed = errors.New("dleq verification failed")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidHexString      = errors.New("invalid hex string")
	ErrInvalidMnemonic       = errors.New("invalid mnemonic")
)

// Network
var (
	ErrNetwork           = errors.New("network error")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrMintUnavailable   = errors.New("mint unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrOperationTimeout  = errors.New("operation timed out")
	ErrTemporaryFailure  = errors.New("temporary failure")
)

// Protocol / HTTP. HttpError carries the mint's own NUT-00 error body
// (see cashu.Error) and is returned, not wrapped in a sentinel, so callers
// can inspect detail/code directly.
var (
	ErrUnsupportedVersion   = errors.New("unsupported protocol version")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrCapabilityNotSupported = errors.New("capability not supported by mint")
)

// Validation
var (
	ErrInvalidTokenFormat    = errors.New("invalid token format")
	ErrInvalidTokenStructure = errors.New("invalid token structure")
	ErrValidationFailed      = errors.New("validation failed")
	ErrAmountTooSmall        = errors.New("amount too small")
	ErrAmountTooLarge        = errors.New("amount too large")
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrInvalidKeysetID       = errors.New("invalid keyset id")
	ErrKeysetNotFound        = errors.New("keyset not found")
	ErrKeysetInactive        = errors.New("keyset is inactive")
	ErrNoActiveKeyset        = errors.New("could not find an active keyset for the unit")
	ErrInvalidUnit           = errors.New("invalid unit")
	ErrInvalidDenomination   = errors.New("invalid denomination")
)

// Wallet / state
var (
	ErrNotInitialized             = errors.New("wallet not initialized")
	ErrAlreadyInitialized         = errors.New("wallet already exists")
	ErrNotInitializedWithMnemonic = errors.New("wallet was not initialized with a mnemonic")
	ErrInvalidWalletState         = errors.New("invalid wallet state")
	ErrBalanceInsufficient        = errors.New("not enough funds")
	ErrNoSpendableProofs          = errors.New("no spendable proofs")
	ErrInvalidProofSet            = errors.New("invalid proof set")
	ErrProofAlreadySpent          = errors.New("proof already spent")
	ErrProofNotFound              = errors.New("proof not found")
	ErrInvalidTransition          = errors.New("invalid state transition")
	ErrTransactionNotFound        = errors.New("transaction not found")
)

// Quote-specific
var (
	ErrQuotePending       = errors.New("quote is pending")
	ErrQuoteExpired       = errors.New("quote has expired")
	ErrQuoteNotFound      = errors.New("quote does not exist")
	ErrInvoiceExpired     = errors.New("invoice has expired")
	ErrInvoiceAlreadyPaid = errors.New("invoice already paid")
	ErrPaymentFailed      = errors.New("payment failed")
)

// HTLC / P2PK spending conditions
var (
	ErrInvalidPreimage      = errors.New("invalid preimage")
	ErrLocktimeNotExpired   = errors.New("locktime has not expired")
	ErrInvalidProofType     = errors.New("invalid proof type")
	ErrInvalidWitness       = errors.New("invalid witness")
	ErrNotEnoughSignatures  = errors.New("not enough signatures")
	ErrDuplicateSignatures  = errors.New("duplicate signatures")
)

// Storage
var (
	ErrStorage        = errors.New("storage error")
	ErrNoKeychainData = errors.New("no keychain data")
)

// Payment requests (NUT-18) and access tokens (NUT-22 / NUT-20)
var (
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	ErrUnsupportedTransport  = errors.New("unsupported payment request transport")
	ErrUnauthorized          = errors.New("unauthorized: missing or invalid access token")
	ErrMissingQuoteSignature = errors.New("mint quote requires a signature")
)

// Multi-path melt (NUT-15)
var (
	ErrNoMeltPlans          = errors.New("no melt plans given")
	ErrMultiPathMeltFailed  = errors.New("multi-path melt did not complete on all mints")
)
