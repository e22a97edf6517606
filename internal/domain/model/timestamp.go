// timestamp.go — время в формате Resource API.
package model

import (
	"bytes"
	"fmt"
	"time"
)

// Форматы, которые может прислать Resource API.
// Помимо RFC 3339 upstream отдаёт ISO-время без зоны (считается UTC).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp — time.Time с терпимым к формату JSON-декодированием.
// Сериализуется в RFC 3339 (UTC).
type Timestamp struct {
	time.Time
}

// NewTimestamp оборачивает time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// MarshalJSON сериализует время в RFC 3339; нулевое время — null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

// UnmarshalJSON разбирает время в любом из поддерживаемых форматов.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp: ожидалась строка, получено %s", string(data))
	}

	raw := string(data[1 : len(data)-1])
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: неизвестный формат %q", raw)
}
