package contract

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
)

// RetryPolicy bounds how a RetryCaller re-issues failed calls.
type RetryPolicy struct {
	MaxRetries uint64
	// InitialInterval is the first backoff delay. Zero keeps the backoff
	// package default.
	InitialInterval time.Duration
	// OnRetry, if set, is called before every retry.
	OnRetry func(err error)
}

// RetryCaller retries eth_call transport failures with exponential backoff.
// Reverts are final and returned on the first attempt.
type RetryCaller struct {
	caller Caller
	policy RetryPolicy
}

// NewRetryCaller wraps c.
func NewRetryCaller(c Caller, policy RetryPolicy) *RetryCaller {
	return &RetryCaller{caller: c, policy: policy}
}

func (r *RetryCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.policy.MaxRetries), ctx)

	var lastErr error
	return backoff.RetryWithData(func() ([]byte, error) {
		if lastErr != nil && r.policy.OnRetry != nil {
			r.policy.OnRetry(lastErr)
		}
		out, err := r.caller.CallContract(ctx, call, blockNumber)
		if err == nil {
			return out, nil
		}
		if isRevert(err) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		lastErr = err
		return nil, err
	}, b)
}
