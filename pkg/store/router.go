package store

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/global"
)

// New builds the race store configured in global.Conf.
func New(ctx context.Context) (RaceStore, error) {
	prefix := global.Prefix()
	global.Log().Info(ctx, "opening race store",
		zap.String("kind", global.Conf.Store.Kind),
		zap.String("prefix", prefix),
	)

	switch global.Conf.Store.Kind {
	case KindFS, "":
		return OpenFS(filepath.Join(global.DataDir(), KindFS), prefix)
	case KindBolt:
		return OpenBolt(filepath.Join(global.DataDir(), KindBolt), prefix, global.Conf.Store.BoltTimeout)
	case KindSQLite:
		return OpenSQLite(filepath.Join(global.DataDir(), KindSQLite), prefix, global.Conf.Store.SQLiteBusyTimeout)
	case KindEtcd:
		return NewEtcdStore(global.GetEtcdManager(), prefix), nil
	case KindMemory:
		return LocalStore().WithPrefix(prefix), nil
	}
	panic("unhandled store kind " + global.Conf.Store.Kind)
}

// Kinds lists the supported store kinds.
func Kinds() []string {
	return []string{KindFS, KindBolt, KindSQLite, KindEtcd, KindMemory}
}
