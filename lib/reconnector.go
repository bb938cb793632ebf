package lib

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Clouded-Sabre/Reliable-UDP/config"
)

// DialWithRetry repeats Dial after handshake failures, waiting an
// exponentially growing delay between attempts. It makes at most
// cfg.DialRetries+1 attempts. Errors other than a handshake failure end the
// loop immediately. The protocol itself never resends a SYN; this is an
// application-level retry of the whole handshake on a fresh socket.
func DialWithRetry(ctx context.Context, address string, cfg *config.Config) (*Connection, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.DialInitialBackoff
	eb.MaxInterval = cfg.DialMaxBackoff
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.DialRetries)), ctx)

	var conn *Connection
	attempt := 0
	op := func() error {
		attempt++
		c, err := Dial(ctx, address, cfg)
		if err != nil {
			if !errors.Is(err, ErrHandshakeFailed) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("dial attempt %d to %s failed: %v; retrying in %s", attempt, address, err, wait)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	if attempt > 1 {
		log.Infof("connected to %s on attempt %d", address, attempt)
	}
	return conn, nil
}
