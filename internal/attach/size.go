// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count in base-1024 units, using the largest
// unit that keeps the value at or above one and rounding to two decimals.
// Sizes beyond the gigabyte range stay in GB.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i, scale := 0, int64(1)
	for i < len(sizeUnits)-1 && bytes >= scale*1024 {
		scale *= 1024
		i++
	}

	value := float64(bytes) / float64(scale)
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}
