package content

import (
	"crypto/rand"
	"math"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IsValidUUID returns true if s is a UUID in canonical form
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsAllowedFileType returns true if mimeType is one of allowed. Parameters like
// "; charset=utf-8" are ignored.
func IsAllowedFileType(mimeType string, allowed []string) bool {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimSpace(a)) == mimeType {
			return true
		}
	}
	return false
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize formats a byte count with binary units and at most two decimals,
// e.g. "0 Bytes", "1.5 KB", "10 MB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	value := float64(bytes) / math.Pow(1024, float64(i))
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomString(n int) string {
	var sb strings.Builder
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		c, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		sb.WriteByte(base36[c.Int64()])
	}
	return sb.String()
}

// UniqueFilename returns "<unix millis>-<random>.<ext>" where ext is the extension of original
func UniqueFilename(original string) string {
	name := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + randomString(13)
	ext := strings.TrimPrefix(filepath.Ext(filepath.Base(original)), ".")
	if ext == "" {
		return name
	}
	return name + "." + strings.ToLower(ext)
}

// Page is one page of a paginated list
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// Paginate cuts the requested page out of items. Pages start at 1.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total := len(items)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	data := make([]T, end-start)
	copy(data, items[start:end])
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}
}
