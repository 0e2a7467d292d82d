// Package txlog 把客户端事务持久化到 bbolt 数据库，供事后查询与回放。
package txlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/LoveWonYoung/udsengine/uds"
)

var (
	recordsBucket = []byte("transactions")
	indexBucket   = []byte("ids")
)

// ErrNotFound 没有该 ID 的事务
var ErrNotFound = errors.New("事务不存在")

// Record 一次请求/响应事务
type Record struct {
	ID        uuid.UUID
	Time      time.Time
	Duration  time.Duration
	Request   *uds.Message
	Confirm   *uds.Message
	Responses []*uds.Message
	Status    uds.Status
	Error     string
}

func (r *Record) String() string {
	sid := byte(0)
	if r.Request != nil && len(r.Request.Data) > 0 {
		sid = r.Request.Data[0]
	}
	return fmt.Sprintf("%s %s SID=0x%02X (%s) 响应=%d 耗时=%v 状态=%s",
		r.ID, r.Time.Format(time.RFC3339Nano), sid, uds.ServiceName(sid), len(r.Responses), r.Duration, r.Status)
}

// 落盘格式，消息使用 uds.Message 的二进制编码
type storedRecord struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Duration  int64     `json:"duration_ns"`
	Request   []byte    `json:"request,omitempty"`
	Confirm   []byte    `json:"confirm,omitempty"`
	Responses [][]byte  `json:"responses,omitempty"`
	Status    uint32    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

func marshalMessage(m *uds.Message) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return m.MarshalBinary()
}

func unmarshalMessage(b []byte) (*uds.Message, error) {
	if len(b) == 0 {
		return nil, nil
	}
	m := new(uds.Message)
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return m, nil
}

func encode(r *Record) ([]byte, error) {
	s := storedRecord{
		ID:       r.ID.String(),
		Time:     r.Time,
		Duration: int64(r.Duration),
		Status:   uint32(r.Status),
		Error:    r.Error,
	}
	var err error
	if s.Request, err = marshalMessage(r.Request); err != nil {
		return nil, err
	}
	if s.Confirm, err = marshalMessage(r.Confirm); err != nil {
		return nil, err
	}
	for _, m := range r.Responses {
		b, err := marshalMessage(m)
		if err != nil {
			return nil, err
		}
		s.Responses = append(s.Responses, b)
	}
	return json.Marshal(s)
}

func decode(v []byte) (*Record, error) {
	var s storedRecord
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:       id,
		Time:     s.Time,
		Duration: time.Duration(s.Duration),
		Status:   uds.Status(s.Status),
		Error:    s.Error,
	}
	if r.Request, err = unmarshalMessage(s.Request); err != nil {
		return nil, err
	}
	if r.Confirm, err = unmarshalMessage(s.Confirm); err != nil {
		return nil, err
	}
	for _, b := range s.Responses {
		m, err := unmarshalMessage(b)
		if err != nil {
			return nil, err
		}
		r.Responses = append(r.Responses, m)
	}
	return r, nil
}

// Store 基于 bbolt 的事务日志
type Store struct {
	db *bbolt.DB
}

// Open 打开 (或创建) path 处的事务日志
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建事务日志目录: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开事务日志 %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{recordsBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket: %s", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Record 追加一条事务，ID 为空时自动分配
func (s *Store) Record(rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	v, err := encode(rec)
	if err != nil {
		return fmt.Errorf("编码事务 %s: %w", rec.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := b.Put(key, v); err != nil {
			return err
		}
		return tx.Bucket(indexBucket).Put(rec.ID[:], key)
	})
}

// Get 按 ID 查找事务
func (s *Store) Get(id uuid.UUID) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(indexBucket).Get(id[:])
		if key == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		v := tx.Bucket(recordsBucket).Get(key)
		if v == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		var err error
		rec, err = decode(v)
		return err
	})
	return rec, err
}

// List 按写入顺序返回最近的 limit 条事务，limit<=0 返回全部
func (s *Store) List(limit int) ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			rec, err := decode(v)
			if err != nil {
				return fmt.Errorf("解码事务 %x: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// 翻转为时间正序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Since 返回 t 之后 (含) 开始的事务
func (s *Store) Since(t time.Time) ([]*Record, error) {
	all, err := s.List(0)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if !r.Time.Before(t) {
			out = append(out, r)
		}
	}
	return out, nil
}
