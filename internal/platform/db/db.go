package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/config"
)

const driverName = "mysql"

// DSN: 時刻は UTC で保存・比較する（タイムゾーン変換はアプリ側の Calendar で行う）。
// multiStatements はマイグレーション用。
func DSN(c config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC&multiStatements=true",
		c.Username, c.Password, c.Host, c.Port, c.DBName)
}

func Connect(c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, DSN(c))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 通知の同時送信はDBを使わないので小さめのプールで足りる
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
