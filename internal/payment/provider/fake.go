package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory provider for local runs without processor credentials
// and for tests. Setting Fail makes every call return ErrUnavailable.
type Fake struct {
	mu       sync.Mutex
	Fail     bool
	auths    map[string]int64
	captured map[string]int64
	refunded map[string]int64
	Calls    []string
}

func NewFake() *Fake {
	return &Fake{
		auths:    map[string]int64{},
		captured: map[string]int64{},
		refunded: map[string]int64{},
	}
}

func (f *Fake) SetFail(fail bool) {
	f.mu.Lock()
	f.Fail = fail
	f.mu.Unlock()
}

func (f *Fake) Authorize(_ context.Context, req AuthorizeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "authorize")
	if f.Fail {
		return "", fmt.Errorf("%w: authorize declined", ErrUnavailable)
	}
	token := "auth_" + uuid.NewString()
	f.auths[token] = req.Amount
	return token, nil
}

func (f *Fake) Capture(_ context.Context, token string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "capture")
	if f.Fail {
		return "", fmt.Errorf("%w: capture failed", ErrUnavailable)
	}
	held, ok := f.auths[token]
	if !ok || amount > held {
		return "", fmt.Errorf("%w: unknown authorization %s", ErrUnavailable, token)
	}
	receipt := "rcpt_" + uuid.NewString()
	f.captured[receipt] = amount
	delete(f.auths, token)
	return receipt, nil
}

func (f *Fake) Refund(_ context.Context, receipt string, amount int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "refund")
	if f.Fail {
		return "", fmt.Errorf("%w: refund failed", ErrUnavailable)
	}
	captured, ok := f.captured[receipt]
	if !ok || f.refunded[receipt]+amount > captured {
		return "", fmt.Errorf("%w: refund of %d exceeds receipt %s", ErrUnavailable, amount, receipt)
	}
	f.refunded[receipt] += amount
	return "re_" + uuid.NewString(), nil
}

// Refunded reports how much has been refunded against a receipt.
func (f *Fake) Refunded(receipt string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded[receipt]
}

// CallCount counts recorded calls of one operation.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}
