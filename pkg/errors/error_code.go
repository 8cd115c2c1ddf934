package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidTimeframe     ErrorCode = 102
	ErrCodeInvalidTimeRange     ErrorCode = 103
	ErrCodeInvalidSchema        ErrorCode = 104
	ErrCodeParameterOutOfBounds ErrorCode = 105
	ErrCodeInvalidType          ErrorCode = 106

	// Data/Coverage errors (200-299)
	ErrCodeDataNotFound       ErrorCode = 200
	ErrCodeMissingCoverage    ErrorCode = 201
	ErrCodeQueryFailed        ErrorCode = 202
	ErrCodeFetchFailed        ErrorCode = 203
	ErrCodeInsufficientBars   ErrorCode = 204
	ErrCodeNonMonotonicSeries ErrorCode = 205

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound    ErrorCode = 300
	ErrCodeIndicatorCalculation ErrorCode = 301

	// Strategy errors (400-499)
	ErrCodeStrategyNotFound      ErrorCode = 400
	ErrCodeStrategyAlreadyExists ErrorCode = 401
	ErrCodeStrategyFault         ErrorCode = 402
	ErrCodeVersionMismatch       ErrorCode = 403

	// Trading errors (500-599)
	ErrCodeOrderRejected    ErrorCode = 500
	ErrCodeInvalidOrderSize ErrorCode = 501

	// Backtest errors (600-699)
	ErrCodeBacktestNotEnoughBars ErrorCode = 600
	ErrCodeBacktestCanceled      ErrorCode = 601
	ErrCodeBacktestNoStrategy    ErrorCode = 602

	// Persistence errors (700-799)
	ErrCodePersistFailed    ErrorCode = 700
	ErrCodeBundleCorrupt    ErrorCode = 701
	ErrCodeRunNotFound      ErrorCode = 702
	ErrCodeVerifyFailed     ErrorCode = 703
	ErrCodeMigrationError   ErrorCode = 704
	ErrCodeStoreOpenFailed  ErrorCode = 705
	ErrCodeStoreWriteFailed ErrorCode = 706
	ErrCodeStoreReadFailed  ErrorCode = 707
	ErrCodeInvalidRunRecord ErrorCode = 708
)
