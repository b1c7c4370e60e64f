package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TransferIDPrefix marks identifiers of committed transfers.
const TransferIDPrefix = "trf"

// GenerateID generates a unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// ParseID parses a positive account id from a path parameter.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
