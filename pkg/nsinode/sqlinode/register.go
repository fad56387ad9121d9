package sqlinode

import (
	_ "github.com/go-sql-driver/mysql"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"xorm.io/xorm"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
)

// xormDriver maps a config URI scheme to the xorm/database/sql driver name
// registered by the blank imports above.
var xormDriver = map[string]string{
	"sqlite": "sqlite3",
	"mysql":  "mysql",
}

func init() {
	nsinode.Register("sqlite", openSQLite)
	nsinode.Register("mysql", openSQL)
}

// openSQLite takes an advisory file lock alongside the database file before
// opening the engine, since sqlite tolerates only a single writing process
// at a time and the library itself does nothing to enforce that across
// separate nsfabric processes sharing one data directory.
func openSQLite(driver, addr string) (nsinode.Backend, error) {
	lock := flock.New(addr + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nserr.Wrap(nserr.BackendUnavailable, addr, err)
	}
	if !locked {
		return nil, nserr.New(nserr.BackendUnavailable, addr+": locked by another process")
	}
	return openSQL(driver, addr)
}

func openSQL(driver, addr string) (nsinode.Backend, error) {
	name, ok := xormDriver[driver]
	if !ok {
		return nil, nserr.New(nserr.UnknownOption, "unsupported sql driver "+driver)
	}
	engine, err := xorm.NewEngine(name, addr)
	if err != nil {
		return nil, nserr.Wrap(nserr.BackendUnavailable, driver, err)
	}
	return New(engine)
}
