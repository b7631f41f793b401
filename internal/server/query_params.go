package server

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var errInvalidPagination = errors.New("invalid_pagination")

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parsePagination returns zero for an absent limit so the service applies its default.
func parsePagination(rawLimit, rawOffset string) (int, int, error) {
	limit, err := parseOptionalInt(rawLimit)
	if err != nil || (limit != nil && *limit <= 0) {
		return 0, 0, errInvalidPagination
	}
	offset, err := parseOptionalInt(rawOffset)
	if err != nil || (offset != nil && *offset < 0) {
		return 0, 0, errInvalidPagination
	}

	var l, o int
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}
	return l, o, nil
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
