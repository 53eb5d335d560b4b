package alerts

import (
	"errors"
	"strconv"
	"strings"
)

// Paging bounds for the resolved history.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ParsePage parses limit and offset query values. Empty values take
// defaults; limit is capped at MaxLimit.
func ParsePage(limitStr, offsetStr string) (limit, offset int, err error) {
	limit = DefaultLimit
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}
	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// ValidateVHost checks an optional vhost filter. Empty means all vhosts.
func ValidateVHost(vhost string) (string, error) {
	if len(vhost) > 255 {
		return "", errors.New("vhost must be 255 characters or less")
	}
	if strings.ContainsAny(vhost, "\x00\r\n") {
		return "", errors.New("vhost contains invalid characters")
	}
	return vhost, nil
}
