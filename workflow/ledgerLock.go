package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireLedgerLock serializes ledger-wide maintenance (rebuild) across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will run the maintenance transaction.
func AcquireLedgerLock(tx *gorm.DB, scope string) error {
	lockName := fmt.Sprintf("ledger:%s", scope)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire ledger lock for scope=%s", scope)
	}
	return nil
}

func ReleaseLedgerLock(tx *gorm.DB, scope string) {
	lockName := fmt.Sprintf("ledger:%s", scope)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
