package loadgen

const (
	workerChannelMultiplier = 2
	progressEvery           = 1000
	percentageMultiplier    = 100
	receiptFilePermission   = 0o600
	// every n-th support is resent with its request id; the service must
	// answer with the original receipt.
	replayDivisor = 50
)
