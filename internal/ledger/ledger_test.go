package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemory_ReserveAndCredit(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance(ctx, "alice", 1000)

	t.Run("reserve within balance", func(t *testing.T) {
		if err := l.Reserve(ctx, "alice", 400); err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		bal, _ := l.Balance(ctx, "alice")
		if bal != 600 {
			t.Errorf("balance = %d, want 600", bal)
		}
	})

	t.Run("reserve over balance", func(t *testing.T) {
		err := l.Reserve(ctx, "alice", 700)
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("Reserve() error = %v, want ErrInsufficientFunds", err)
		}
		bal, _ := l.Balance(ctx, "alice")
		if bal != 600 {
			t.Errorf("failed reserve changed balance: %d, want 600", bal)
		}
	})

	t.Run("credit", func(t *testing.T) {
		if err := l.Credit(ctx, "alice", 250); err != nil {
			t.Fatalf("Credit() error = %v", err)
		}
		bal, _ := l.Balance(ctx, "alice")
		if bal != 850 {
			t.Errorf("balance = %d, want 850", bal)
		}
	})
}

func TestMemory_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	bal, err := l.Balance(ctx, "nobody")
	if err != nil || bal != 0 {
		t.Errorf("Balance() = %d, %v, want 0, nil", bal, err)
	}

	if err := l.Reserve(ctx, "nobody", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Reserve() on empty account error = %v, want ErrInsufficientFunds", err)
	}
}

func TestMemory_ConcurrentReserves(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.SetBalance(ctx, "bob", 1000)

	// 100 concurrent reserves of 100 against a balance of 1000: exactly
	// ten may succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(ctx, "bob", 100) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded reserves = %d, want 10", succeeded)
	}
	bal, _ := l.Balance(ctx, "bob")
	if bal != 0 {
		t.Errorf("final balance = %d, want 0", bal)
	}
}
