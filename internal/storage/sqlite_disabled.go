//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "kpibot/pkg/logx"
)

func openSQLite(_ Config, _ logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver requires a binary built with -tags sqlite")
}
