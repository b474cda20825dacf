// Package verify determines whether submitted URLs made it into the index
// and settles the outcome on the address.
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/launchindex/indexer/internal/indexer"
)

// Chain tries checkers in order of reliability. The first one that reaches a
// definite answer decides; a checker error falls through to the next. When
// every checker fails or abstains the result carries a nil Indexed, which
// leaves the address untouched.
type Chain struct {
	checkers []indexer.Checker
	logger   *zap.Logger
}

// NewChain constructs a Chain. Order matters: put the most authoritative
// checker first.
func NewChain(logger *zap.Logger, checkers ...indexer.Checker) *Chain {
	return &Chain{checkers: checkers, logger: logger}
}

// Check runs the chain.
func (c *Chain) Check(ctx context.Context, rawURL string) (indexer.CheckResult, error) {
	var lastErr error
	for _, checker := range c.checkers {
		res, err := checker.Check(ctx, rawURL)
		if err != nil {
			lastErr = err
			c.logger.Debug("checker failed, trying next",
				zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if res.Indexed != nil {
			return res, nil
		}
	}
	if lastErr != nil {
		return indexer.CheckResult{}, fmt.Errorf("all checkers failed: %w", lastErr)
	}
	return indexer.CheckResult{}, nil
}
