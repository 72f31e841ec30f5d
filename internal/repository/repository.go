// Package repository contains the hand-written SQL persistence layer.
package repository

import "strconv"

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
