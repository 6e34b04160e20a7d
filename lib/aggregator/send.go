package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/tarancss/core/lib/errs"
	"github.com/tarancss/core/lib/signer"
)

// SendParams are the parameters of sendCrypto, per §4.6.
type SendParams struct {
	UserID       string
	Chain        string
	Recipient    string
	AmountHuman  string
	TokenAddress string // empty for a native send
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	TxHash string
}

// SendCrypto implements the six-step send pipeline of §4.6: validate, resolve decimals, convert by string
// arithmetic, pre-check balance, invoke the signer, then best-effort invalidate the indexer cache.
func (a *Aggregator) SendCrypto(ctx context.Context, p SendParams) (SendResult, error) {
	const op = "aggregator.sendCrypto"

	if err := validateAmount(p.AmountHuman); err != nil {
		return SendResult{}, errs.NewInvalidArgument(op, err)
	}

	if strings.TrimSpace(p.Recipient) == "" {
		return SendResult{}, errs.NewInvalidArgument(op, fmt.Errorf("recipient must not be empty"))
	}

	decimals := a.resolveDecimals(ctx, p.UserID, p.Chain, p.TokenAddress)

	smallest, err := humanToSmallestUnits(p.AmountHuman, decimals)
	if err != nil {
		return SendResult{}, errs.NewInvalidArgument(op, err)
	}

	if err = a.precheckBalance(ctx, p, smallest); err != nil {
		return SendResult{}, err
	}

	acct, err := a.accounts.Account(ctx, p.UserID, p.Chain)
	if err != nil {
		return SendResult{}, errs.NewUnavailable(op, err)
	}

	receipt, err := signer.Transfer(ctx, acct, p.Recipient, smallest, p.TokenAddress)
	if err != nil {
		return SendResult{}, errs.NewUnavailable(op, err)
	}

	if addrs, addrErr := a.GetAddresses(ctx, p.UserID); addrErr == nil {
		a.idx.InvalidatePortfolio(addrs[p.Chain], p.Chain)
	}

	return SendResult{TxHash: receipt.Hash}, nil
}

func (a *Aggregator) precheckBalance(ctx context.Context, p SendParams, requested *big.Int) error {
	const op = "aggregator.sendCrypto"

	var (
		available *big.Int
		source    string
		known     bool
	)

	if p.TokenAddress == "" {
		acct, err := a.accounts.Account(ctx, p.UserID, p.Chain)
		if err == nil {
			if bal, err := acct.Balance(ctx); err == nil {
				available, source, known = bal, "wdk-getBalance", true
			}
		}
	} else {
		available, source, known = a.balanceOfToken(ctx, p.UserID, p.Chain, p.TokenAddress)
	}

	if !known {
		return nil // availability unknown: proceed, per §4.6 step 4
	}

	if available.Cmp(requested) < 0 {
		return errs.NewPreconditionFailed(op, fmt.Errorf(
			"insufficient balance: availableSmallest=%s, requestedSmallest=%s, source=%s",
			available.String(), requested.String(), source))
	}

	return nil
}

// validateAmount requires amountHuman to parse as a strictly positive decimal, per §4.6 step 1 and §8's
// boundary behavior that amount 0 is rejected.
func validateAmount(amountHuman string) error {
	whole, frac, err := splitDecimal(amountHuman)
	if err != nil {
		return err
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return fmt.Errorf("amount %q is not a valid decimal number", amountHuman)
	}

	if n.Sign() <= 0 {
		return fmt.Errorf("amount must be strictly positive, got %q", amountHuman)
	}

	return nil
}

// splitDecimal splits a human decimal amount like "1.5" into its whole and fractional parts, rejecting anything
// that is not a plain decimal literal with an optional leading minus sign.
func splitDecimal(amountHuman string) (whole, frac string, err error) {
	s := strings.TrimSpace(amountHuman)
	if s == "" {
		return "", "", fmt.Errorf("amount must not be empty")
	}

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)

	whole = parts[0]
	if whole == "" {
		whole = "0"
	}

	for _, c := range whole {
		if c < '0' || c > '9' {
			return "", "", fmt.Errorf("amount %q is not a valid decimal number", amountHuman)
		}
	}

	if len(parts) == 2 {
		frac = parts[1]

		for _, c := range frac {
			if c < '0' || c > '9' {
				return "", "", fmt.Errorf("amount %q is not a valid decimal number", amountHuman)
			}
		}
	}

	if neg {
		whole = "-" + whole
	}

	return whole, frac, nil
}

// humanToSmallestUnits converts amountHuman to its smallest-unit integer representation at decimals by pure
// string/integer arithmetic (no floating point), per §4.6 step 3. A fractional part longer than decimals is
// truncated, not rounded, per §8's boundary behavior.
func humanToSmallestUnits(amountHuman string, decimals uint8) (*big.Int, error) {
	whole, frac, err := splitDecimal(amountHuman)
	if err != nil {
		return nil, err
	}

	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	} else {
		frac += strings.Repeat("0", int(decimals)-len(frac))
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a valid decimal number", amountHuman)
	}

	return n, nil
}
