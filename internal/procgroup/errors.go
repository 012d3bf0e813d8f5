// SPDX-License-Identifier: MPL-2.0

package procgroup

import "errors"

var errUnsupported = errors.New("procgroup: process-group signalling unsupported on this platform")
