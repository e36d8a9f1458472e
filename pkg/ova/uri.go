// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import "fmt"

// tarByteRangeJSON renders the json: URI the copy engine consumes to
// stream a disk directly from inside an uncompressed tar, per
// spec.md §4.1.
func tarByteRangeJSON(tarPath string, offset, size int64) string {
	return fmt.Sprintf(
		`json:{"file":{"driver":"raw","offset":%d,"size":%d,"file":{"driver":"file","filename":%q}}}`,
		offset, size, tarPath,
	)
}
