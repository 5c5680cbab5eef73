package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"reporting-etl/internal/app"
)

// DSN - строка подключения для выбранного диалекта
func DSN(d Dialect, c app.ConfigDB) string {
	if d.Name() == "postgres" {
		sslmode := "disable"
		switch {
		case c.TLS && c.TLSSkipVerify:
			sslmode = "require"
		case c.TLS:
			sslmode = "verify-full"
		}

		return fmt.Sprintf(
			"host=%s port=%d user=%s "+"password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Login, c.Password, c.Database, sslmode,
		)
	}

	mc := mysql.NewConfig()
	mc.User = c.Login
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.MultiStatements = c.MultiStatements
	if c.TLS {
		// проверка сертификата отключается только явно
		mc.TLSConfig = "true"
		if c.TLSSkipVerify {
			mc.TLSConfig = "skip-verify"
		}
	}

	return mc.FormatDSN()
}

// Open - открывает общий для процесса пул соединений
func Open(ctx context.Context, c app.ConfigDB, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	d, err := NewDialect(c.Driver)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(d.DriverName(), DSN(d, c))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		logger.Warnf("DB ping failed: %v", err)
	}

	logger.Infow("database pool opened",
		"driver", d.Name(),
		"host", c.Host,
		"database", c.Database,
	)

	return db, d, nil
}

// TruncateFacts - полностью очищает факт-таблицу (для перезагрузки)
func TruncateFacts(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) error {
	if _, err := db.ExecContext(ctx, Truncate(FactTable)); err != nil {
		logger.Errorw("Failed to truncate fact table", "table", FactTable, zap.Error(err))
		return fmt.Errorf("truncate %s: %w", FactTable, err)
	}

	logger.Infow("fact table truncated", "table", FactTable)

	return nil
}
