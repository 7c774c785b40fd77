package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// check if model cache entries expire
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Category":         true,
		"DailyRequirement": true,
		"DataItem":         true,
	}
	return expirableTypes[typeName]
}

// store list under TypeList
func StoreRedisList[T any](obj any) error {
	typeName := GetTypeName[T]()
	key := typeName + "List"

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(key, &obj, duration)
}

func RetrieveRedisList[T any]() ([]*T, error) {
	key := GetTypeName[T]() + "List"

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList
func RemoveRedisList[T any]() error {
	var key string = GetTypeName[T]() + "List"
	return config.RemoveRedisKey(key)
}

/* weekly ledger window cache, keyed by the Monday the week starts on */

func ledgerWindowKey(weekStart time.Time) string {
	return "LedgerWindow:" + weekStart.Format("2006-01-02")
}

// StoreLedgerWindow caches a weekly requirement report.
func StoreLedgerWindow(weekStart time.Time, report any) error {
	return config.SetRedisObject(ledgerWindowKey(weekStart), report, GetCacheLifespan())
}

// RetrieveLedgerWindow loads a cached weekly report into dest, a pointer.
// Returns false when the window is not cached.
func RetrieveLedgerWindow(weekStart time.Time, dest any) (bool, error) {
	return config.GetRedisObject(ledgerWindowKey(weekStart), dest)
}

// ClearLedgerCache invalidates the cached report for the week containing a
// mutated requirement slot.
func ClearLedgerCache(weekStart time.Time) error {
	return config.RemoveRedisKey(ledgerWindowKey(weekStart))
}
