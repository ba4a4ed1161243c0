package store_test

import (
	"testing"

	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/ledger/store"
	"github.com/warp/cashbook/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return store.NewMemory()
	})
}
