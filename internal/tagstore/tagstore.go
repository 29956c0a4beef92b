// Package tagstore 持久化 (账户, 标的) → 会话标签的映射（Badger KV）。
// 进程重启后，重连恢复路径全靠这里识别哪些持仓由突破会话开仓。
package tagstore

import (
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "tagstore")

// Store 标签存储，实现 services.TagStore
type Store struct {
	db *badger.DB
}

type record struct {
	Tag             string `json:"tag"`
	TakeProfitCount int    `json:"take_profit_count"`
}

type OpenOptions struct {
	Path     string
	ReadOnly bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("tagstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(account, symbol string) []byte {
	return []byte("session/" + account + "/" + symbol)
}

// RecordSession 写入一个会话的标签与预期止盈腿数。
// 同一 (account, symbol) 的后写覆盖先写：一个标的上同时只允许一个突破会话。
func (s *Store) RecordSession(account, symbol, tag string, takeProfitCount int) error {
	if s == nil || s.db == nil {
		return errors.New("tagstore: not opened")
	}
	raw, err := json.Marshal(record{Tag: tag, TakeProfitCount: takeProfitCount})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(account, symbol), raw)
	})
}

func (s *Store) get(account, symbol string) (record, bool) {
	var rec record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(account, symbol))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if uerr := json.Unmarshal(val, &rec); uerr != nil {
				return uerr
			}
			found = true
			return nil
		})
	})
	if err != nil {
		log.Warnf("⚠️ 标签读取失败: account=%s symbol=%s err=%v", account, symbol, err)
		return record{}, false
	}
	return rec, found
}

// TagForPosition 查询持仓归属的会话标签
func (s *Store) TagForPosition(account, symbol string) (string, bool) {
	if s == nil || s.db == nil {
		return "", false
	}
	rec, ok := s.get(account, symbol)
	if !ok || rec.Tag == "" {
		return "", false
	}
	return rec.Tag, true
}

// ExpectedTakeProfitCount 查询会话创建时的止盈腿数（attached 会话记 0，视为未知）
func (s *Store) ExpectedTakeProfitCount(account, symbol string) (int, bool) {
	if s == nil || s.db == nil {
		return 0, false
	}
	rec, ok := s.get(account, symbol)
	if !ok || rec.TakeProfitCount <= 0 {
		return 0, false
	}
	return rec.TakeProfitCount, true
}

// DeleteSession 会话终结后清除映射，避免陈旧标签误导恢复
func (s *Store) DeleteSession(account, symbol string) error {
	if s == nil || s.db == nil {
		return errors.New("tagstore: not opened")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(account, symbol))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
