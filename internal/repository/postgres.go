package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

const pqUniqueViolation = "23505"

// isUniqueViolation はPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// recordColumns はチケットとドメインに共通するレコード列。
type recordColumns struct {
	Name       string
	RecordType string
	Content    string
	Data       []byte
	TTL        int
	Proxied    bool
}

func (c *recordColumns) dest() []any {
	return []any{&c.Name, &c.RecordType, &c.Content, &c.Data, &c.TTL, &c.Proxied}
}

func (c *recordColumns) toRecord() (model.Record, error) {
	value, err := model.ParseRecordValue(model.RecordType(c.RecordType), c.Content, json.RawMessage(c.Data))
	if err != nil {
		return model.Record{}, fmt.Errorf("stored record %q is invalid: %w", c.Name, err)
	}
	return model.Record{Name: c.Name, TTL: c.TTL, Proxied: c.Proxied, Value: value}, nil
}

func columnsOf(rec model.Record) (*recordColumns, error) {
	content, data, err := rec.Parts()
	if err != nil {
		return nil, err
	}
	return &recordColumns{
		Name:       rec.Name,
		RecordType: string(rec.Type()),
		Content:    content,
		Data:       data,
		TTL:        rec.TTL,
		Proxied:    rec.Proxied,
	}, nil
}

// jsonbArg はNULL許容のJSONB引数を返す。
func jsonbArg(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
