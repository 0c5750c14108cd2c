package client

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v5"
)

// Binance error codes we treat specially.
const (
	codeNewOrderRejected    = -2010
	codeCancelRejected      = -2011
	codeTooManyRequests     = -1003
	codeTooManyOrders       = -1015
	codeTimestampOutOfRange = -1021
	codeDisconnected        = -1001
)

// classify maps a raw go-binance error onto the typed errors the bot reacts to.
func classify(op string, err error, postOnly bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeNewOrderRejected, codeCancelRejected:
			crossing := postOnly && strings.Contains(strings.ToLower(apiErr.Message), "immediately match")
			return &models.OrderRejected{Code: apiErr.Code, Reason: apiErr.Message, PostOnly: crossing}
		case codeTooManyRequests, codeTooManyOrders, codeTimestampOutOfRange, codeDisconnected:
			return &models.TransientAPIError{Op: op, Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &models.TransientAPIError{Op: op, Err: err}
	}
	return err
}

// retry runs fn with a fixed delay between attempts. Only transient errors are
// retried; everything else is returned after the first attempt.
func retry[T any](ctx context.Context, op string, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	tries := 0
	return backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		err = classify(op, err, false)
		if models.IsTransient(err) {
			logger.Debugf("%s failed (attempt %d/%d): %v", op, tries, attempts, err)
			return v, err
		}
		return v, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(delay)), backoff.WithMaxTries(uint(attempts)))
}
