package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireBarberCollectionLock serializes collection creation per barber across
// instances using MySQL advisory locks, so concurrent generate/create calls
// cannot both claim the same outstanding transactions.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that will do the guarded writes.
func AcquireBarberCollectionLock(tx *gorm.DB, barberId int) error {
	lockName := fmt.Sprintf("collection:%d", barberId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire collection lock for barber_id=%d", barberId)
	}
	return nil
}

func ReleaseBarberCollectionLock(tx *gorm.DB, barberId int) {
	lockName := fmt.Sprintf("collection:%d", barberId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
